package config

// EnvPrefix is the envconfig namespace; explicit tags act as the lookup fallback.
const EnvPrefix = "INTAKE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	AttachmentBackendGCS        = "gcs"
	AttachmentBackendCloudinary = "cloudinary"
)

const (
	EnvAppEnv            = "INTAKE_APP_ENV"
	EnvPort              = "INTAKE_APP_PORT"
	EnvDBDSN             = "INTAKE_DB_DSN"
	EnvDBHost            = "INTAKE_DB_HOST"
	EnvDBUser            = "INTAKE_DB_USER"
	EnvDBName            = "INTAKE_DB_NAME"
	EnvRedisURL          = "INTAKE_REDIS_URL"
	EnvUseSQLite         = "INTAKE_USE_SQLITE"
	EnvAttachmentBackend = "INTAKE_ATTACHMENT_BACKEND"
	EnvRequireAttachment = "INTAKE_REQUIRE_PARTICIPANT_ATTACHMENT"
	EnvGCSBucket         = "INTAKE_GCS_BUCKET_NAME"
	EnvCRMBaseURL        = "INTAKE_CRM_BASE_URL"
	EnvCRMAPIToken       = "INTAKE_CRM_API_TOKEN"
	EnvCRMBoardID        = "INTAKE_CRM_BOARD_ID"
	EnvDraftCodeLength   = "INTAKE_DRAFT_CODE_LENGTH"
	EnvPubSubIntakeTopic = "INTAKE_PUBSUB_INTAKE_TOPIC"
	EnvAPIURL            = "INTAKE_API_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
