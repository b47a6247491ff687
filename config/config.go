package config

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/rapidaai/voicegateway/pkg/configs"
	"github.com/spf13/viper"
)

// Output wire formats for frames sent back to the telephony provider.
const (
	MediaOutFormatJSONSimple = "json_simple"
	MediaOutFormatBinary     = "binary"
)

// Application config structure. Option names match the environment variables
// the gateway recognizes (viper key delimiter is "__" for the nested blocks).
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogFile  string `mapstructure:"log_file"`

	PostgresConfig configs.PostgresConfig `mapstructure:"postgres" validate:"required"`
	RedisConfig    configs.RedisConfig    `mapstructure:"redis" validate:"required"`

	// Speech service leg (client websocket).
	SpeechEndpoint     string `mapstructure:"speech_endpoint"`
	SpeechApiVersion   string `mapstructure:"speech_api_version"`
	SpeechApiKey       string `mapstructure:"speech_api_key"`
	SpeechBearerToken  string `mapstructure:"speech_bearer_token"`
	SpeechModel        string `mapstructure:"speech_model"`
	SpeechVoice        string `mapstructure:"speech_voice"`
	SpeechInstructions string `mapstructure:"speech_instructions"`
	SpeechAutoResponse bool   `mapstructure:"speech_auto_response"`

	// Telephony media leg (server websocket).
	FrameBytes         int    `mapstructure:"frame_bytes" validate:"required,gt=0"`
	FrameIntervalMs    int    `mapstructure:"frame_interval_ms" validate:"required,gt=0"`
	MediaBidirectional bool   `mapstructure:"media_bidirectional"`
	MediaEnableVlIn    bool   `mapstructure:"media_enable_vl_in"`
	MediaEnableVlOut   bool   `mapstructure:"media_enable_vl_out"`
	MediaOutFormat     string `mapstructure:"media_out_format" validate:"required,oneof=json_simple binary"`
	MediaMockTone      bool   `mapstructure:"media_mock_tone"`
	MediaPublicHost    string `mapstructure:"media_public_host"`
	MediaSampleRate    int    `mapstructure:"media_sample_rate" validate:"required,gt=0"`

	// Commit thresholds and triggers.
	AdaptiveMinMs            int `mapstructure:"adaptive_min_ms" validate:"gte=0"`
	SafetyMs                 int `mapstructure:"safety_ms" validate:"gte=0"`
	MaxBufferMs              int `mapstructure:"max_buffer_ms" validate:"gt=0"`
	SilenceCommitMs          int `mapstructure:"silence_commit_ms" validate:"gt=0"`
	NoSpeechCommitMs         int `mapstructure:"no_speech_commit_ms" validate:"gt=0"`
	MinSpeechFramesForCommit int `mapstructure:"min_speech_frames_for_commit" validate:"gt=0"`
	CommitMinUserMs          int `mapstructure:"commit_min_user_ms" validate:"gte=0"`

	// Adaptive VAD tuning.
	BootstrapDurationMs   int     `mapstructure:"bootstrap_duration_ms" validate:"gte=0"`
	BootstrapOffset       float64 `mapstructure:"bootstrap_offset"`
	OffsetDecayStep       float64 `mapstructure:"offset_decay_step"`
	OffsetDecayIntervalMs int     `mapstructure:"offset_decay_interval_ms" validate:"gt=0"`
	OffsetDecayMin        float64 `mapstructure:"offset_decay_min"`
	DynamicRmsOffset      float64 `mapstructure:"dynamic_rms_offset"`
	DynamicRmsMin         float64 `mapstructure:"dynamic_rms_min"`
	DynamicRmsMax         float64 `mapstructure:"dynamic_rms_max"`

	// Barge-in detector.
	BargeInLockMs         int     `mapstructure:"barge_in_lock_ms" validate:"gte=0"`
	BargeInOffset         float64 `mapstructure:"barge_in_offset"`
	BargeInRelativeFactor float64 `mapstructure:"barge_in_relative_factor"`
	BargeInAbsMinRms      float64 `mapstructure:"barge_in_abs_min_rms"`
	BargeInMinSnrDb       float64 `mapstructure:"barge_in_min_snr_db"`
	BargeInMinAgentMs     int     `mapstructure:"barge_in_min_agent_ms" validate:"gte=0"`
	BargeInCooldownMs     int     `mapstructure:"barge_in_cooldown_ms" validate:"gte=0"`
	BargeInReleaseFrames  int     `mapstructure:"barge_in_release_frames" validate:"gt=0"`
	BargeInMinUserMs      int     `mapstructure:"barge_in_min_user_ms" validate:"gt=0"`

	// Call lifetime enforcement.
	CallTimeoutSec     int `mapstructure:"call_timeout_sec" validate:"gt=0"`
	CallIdleTimeoutSec int `mapstructure:"call_idle_timeout_sec" validate:"gt=0"`

	// Telephony provider used by /call/start. One of: acs, twilio, vonage, none.
	TelephonyProvider string               `mapstructure:"telephony_provider" validate:"required,oneof=acs twilio vonage none"`
	AcsConfig         AcsProviderConfig    `mapstructure:"acs"`
	TwilioConfig      TwilioProviderConfig `mapstructure:"twilio"`
	VonageConfig      VonageProviderConfig `mapstructure:"vonage"`
}

// AcsProviderConfig configures the call-automation REST client.
type AcsProviderConfig struct {
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SourceNumber string `mapstructure:"source_number"`
}

// TwilioProviderConfig configures the Twilio REST client.
type TwilioProviderConfig struct {
	AccountSid   string `mapstructure:"account_sid"`
	AccountToken string `mapstructure:"account_token"`
	FromNumber   string `mapstructure:"from_number"`
}

// VonageProviderConfig configures the Vonage voice client.
type VonageProviderConfig struct {
	ApplicationId string `mapstructure:"application_id"`
	PrivateKey    string `mapstructure:"private_key"`
	FromNumber    string `mapstructure:"from_number"`
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	//
	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env varaibles.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// setting all default values
	// keeping watch on https://github.com/spf13/viper/issues/188

	v.SetDefault("SERVICE_NAME", "voice-gateway")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("LOG_FILE", "")

	v.SetDefault("POSTGRES__HOST", "localhost")
	v.SetDefault("POSTGRES__PORT", 5432)
	v.SetDefault("POSTGRES__DB_NAME", "voicegateway")
	v.SetDefault("POSTGRES__AUTH__USER", "<>")
	v.SetDefault("POSTGRES__AUTH__PASSWORD", "<>")
	v.SetDefault("POSTGRES__MAX_OPEN_CONNECTION", 10)
	v.SetDefault("POSTGRES__MAX_IDEAL_CONNECTION", 10)
	v.SetDefault("POSTGRES__SSL_MODE", "disable")

	v.SetDefault("REDIS__HOST", "localhost")
	v.SetDefault("REDIS__PORT", 6379)
	v.SetDefault("REDIS__PASSWORD", "")
	v.SetDefault("REDIS__DB", 0)

	// speech service leg
	v.SetDefault("SPEECH_ENDPOINT", "")
	v.SetDefault("SPEECH_API_VERSION", "2025-05-01-preview")
	v.SetDefault("SPEECH_API_KEY", "")
	v.SetDefault("SPEECH_BEARER_TOKEN", "")
	v.SetDefault("SPEECH_MODEL", "")
	v.SetDefault("SPEECH_VOICE", "")
	v.SetDefault("SPEECH_INSTRUCTIONS", "")
	v.SetDefault("SPEECH_AUTO_RESPONSE", true)

	// telephony media leg: 20ms PCM16 mono at 16kHz
	v.SetDefault("FRAME_BYTES", 640)
	v.SetDefault("FRAME_INTERVAL_MS", 20)
	v.SetDefault("MEDIA_BIDIRECTIONAL", true)
	v.SetDefault("MEDIA_ENABLE_VL_IN", true)
	v.SetDefault("MEDIA_ENABLE_VL_OUT", true)
	v.SetDefault("MEDIA_OUT_FORMAT", MediaOutFormatJSONSimple)
	v.SetDefault("MEDIA_MOCK_TONE", false)
	v.SetDefault("MEDIA_PUBLIC_HOST", "")
	v.SetDefault("MEDIA_SAMPLE_RATE", 16000)

	// commit thresholds
	v.SetDefault("ADAPTIVE_MIN_MS", 120)
	v.SetDefault("SAFETY_MS", 80)
	v.SetDefault("MAX_BUFFER_MS", 2000)
	v.SetDefault("SILENCE_COMMIT_MS", 140)
	v.SetDefault("NO_SPEECH_COMMIT_MS", 600)
	v.SetDefault("MIN_SPEECH_FRAMES_FOR_COMMIT", 5)
	v.SetDefault("COMMIT_MIN_USER_MS", 600)

	// adaptive VAD
	v.SetDefault("BOOTSTRAP_DURATION_MS", 2000)
	v.SetDefault("BOOTSTRAP_OFFSET", 15.0)
	v.SetDefault("OFFSET_DECAY_STEP", 2.0)
	v.SetDefault("OFFSET_DECAY_INTERVAL_MS", 250)
	v.SetDefault("OFFSET_DECAY_MIN", 12.0)
	v.SetDefault("DYNAMIC_RMS_OFFSET", 30.0)
	v.SetDefault("DYNAMIC_RMS_MIN", 60.0)
	v.SetDefault("DYNAMIC_RMS_MAX", 2000.0)

	// barge-in
	v.SetDefault("BARGE_IN_LOCK_MS", 1200)
	v.SetDefault("BARGE_IN_OFFSET", 40.0)
	v.SetDefault("BARGE_IN_RELATIVE_FACTOR", 1.3)
	v.SetDefault("BARGE_IN_ABS_MIN_RMS", 100.0)
	v.SetDefault("BARGE_IN_MIN_SNR_DB", 10.0)
	v.SetDefault("BARGE_IN_MIN_AGENT_MS", 800)
	v.SetDefault("BARGE_IN_COOLDOWN_MS", 1200)
	v.SetDefault("BARGE_IN_RELEASE_FRAMES", 6)
	v.SetDefault("BARGE_IN_MIN_USER_MS", 160)

	// call lifetime
	v.SetDefault("CALL_TIMEOUT_SEC", 90)
	v.SetDefault("CALL_IDLE_TIMEOUT_SEC", 90)

	// telephony provider
	v.SetDefault("TELEPHONY_PROVIDER", "none")
	v.SetDefault("ACS__ENDPOINT", "")
	v.SetDefault("ACS__ACCESS_KEY", "")
	v.SetDefault("ACS__SOURCE_NUMBER", "")
	v.SetDefault("TWILIO__ACCOUNT_SID", "")
	v.SetDefault("TWILIO__ACCOUNT_TOKEN", "")
	v.SetDefault("TWILIO__FROM_NUMBER", "")
	v.SetDefault("VONAGE__APPLICATION_ID", "")
	v.SetDefault("VONAGE__PRIVATE_KEY", "")
	v.SetDefault("VONAGE__FROM_NUMBER", "")
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	if err := config.ValidateSpeech(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ValidateSpeech fails fast when the speech leg is enabled but incomplete.
// The mock tone mode deliberately runs without a speech service.
func (c *AppConfig) ValidateSpeech() error {
	if c.MediaMockTone {
		return nil
	}
	if c.SpeechEndpoint == "" {
		return fmt.Errorf("speech_endpoint is required (or set media_mock_tone)")
	}
	if c.SpeechModel == "" {
		return fmt.Errorf("speech_model is required")
	}
	if c.SpeechVoice == "" {
		return fmt.Errorf("speech_voice is required")
	}
	if c.SpeechApiKey == "" && c.SpeechBearerToken == "" {
		return fmt.Errorf("one of speech_api_key or speech_bearer_token is required")
	}
	return nil
}
