package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dCell/rpc/client"
	"github.com/ValentinKolb/dCell/rpc/common"
	"github.com/ValentinKolb/dCell/rpc/transport/http"
	"github.com/c2h5oh/datasize"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Client flags
// --------------------------------------------------------------------------

// clientFlags mirrors the client flags, viper decodes into it
type clientFlags struct {
	Host               string            `mapstructure:"host"`
	Port               int               `mapstructure:"port"`
	LogLevel           string            `mapstructure:"log-level"`
	Debug              []string          `mapstructure:"debug"`
	LowSpeedTimeSecond int               `mapstructure:"low-speed-time"`
	LowSpeedLimit      datasize.ByteSize `mapstructure:"low-speed-limit"`
	UploadBuffer       datasize.ByteSize `mapstructure:"upload-buffer"`
	ErrorTextLimit     datasize.ByteSize `mapstructure:"error-text-limit"`
	ChunkSize          datasize.ByteSize `mapstructure:"chunk-size"`
	ChunkWindow        int               `mapstructure:"chunk-window"`
	PollInterval       time.Duration     `mapstructure:"poll-interval"`
	SchemaTTL          time.Duration     `mapstructure:"schema-ttl"`
	MaxResults         int               `mapstructure:"max-results"`
}

// SetupClientFlags adds the connection and tuning flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	def := common.DefaultClientConfig()

	key := "host"
	cmd.PersistentFlags().String(key, "localhost", WrapString("Address of the entry cell"))

	key = "port"
	cmd.PersistentFlags().Int(key, 8080, WrapString("Port of the entry cell"))

	key = "log-level"
	cmd.PersistentFlags().String(key, def.LogLevel, WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "debug"
	cmd.PersistentFlags().String(key, "", WrapString("Comma-separated list of components to log at debug level (transport, protocol, chunks, query, cell, client, all)"))

	key = "low-speed-time"
	cmd.PersistentFlags().Int(key, def.LowSpeedTimeSecond, WrapString("Abort an exchange that stays below the low speed limit for this many seconds (0 disables the watchdog)"))

	key = "low-speed-limit"
	cmd.PersistentFlags().String(key, def.LowSpeedLimit.String(), WrapString("Minimum throughput per second of an exchange (e.g. 1B, 10KB)"))

	key = "upload-buffer"
	cmd.PersistentFlags().String(key, def.UploadBufferSize.String(), WrapString("Size of the buffer uploads are read in"))

	key = "error-text-limit"
	cmd.PersistentFlags().String(key, def.ErrorTextLimit.String(), WrapString("How much of an error response body is kept"))

	key = "chunk-size"
	cmd.PersistentFlags().String(key, def.ChunkSize.String(), WrapString("Size of one acknowledged chunk (only with a chunk window)"))

	key = "chunk-window"
	cmd.PersistentFlags().Int(key, def.ChunkWindow, WrapString("Number of unacknowledged chunks an upload may run ahead (0 disables chunk acknowledgments)"))

	key = "poll-interval"
	cmd.PersistentFlags().Duration(key, def.PollInterval, WrapString("Maximum time between two transport steps"))

	key = "schema-ttl"
	cmd.PersistentFlags().Duration(key, def.SchemaTTL, WrapString("How long a fetched schema is used before it is fetched again (0 caches forever)"))

	key = "max-results"
	cmd.PersistentFlags().Int(key, def.DefaultMaxResults, WrapString("Default page size of queries"))
}

// InitClientConfig loads .env files and environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dcell")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// decodeHook converts flag and environment strings into durations, lists
// and byte sizes
func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
}

// GetClientConfig reads the client configuration from viper. It returns the
// address of the entry cell next to the configuration.
func GetClientConfig() (host string, port int, config common.ClientConfig, err error) {
	var flags clientFlags
	if err := viper.Unmarshal(&flags, decodeHook()); err != nil {
		return "", 0, config, fmt.Errorf("reading client configuration: %w", err)
	}

	debug, err := common.ParseDebugFlags(flags.Debug)
	if err != nil {
		return "", 0, config, err
	}

	config = common.ClientConfig{
		LogLevel:           flags.LogLevel,
		DebugFlags:         debug,
		LowSpeedTimeSecond: flags.LowSpeedTimeSecond,
		LowSpeedLimit:      flags.LowSpeedLimit,
		UploadBufferSize:   flags.UploadBuffer,
		ErrorTextLimit:     flags.ErrorTextLimit,
		ChunkSize:          flags.ChunkSize,
		ChunkWindow:        flags.ChunkWindow,
		PollInterval:       flags.PollInterval,
		SchemaTTL:          flags.SchemaTTL,
		DefaultMaxResults:  flags.MaxResults,
	}
	if err := config.Validate(); err != nil {
		return "", 0, config, err
	}
	return flags.Host, flags.Port, config, nil
}

// NewSession opens a session with the configured entry cell
func NewSession() (*client.Session, error) {
	host, port, config, err := GetClientConfig()
	if err != nil {
		return nil, err
	}
	if err := common.InitLoggers(config.LogLevel); err != nil {
		return nil, err
	}
	return client.NewSession(host, port, config, http.NewHttpClientTransport())
}

// --------------------------------------------------------------------------
// Simulator flags
// --------------------------------------------------------------------------

// simulatorFlags mirrors the simulate flags
type simulatorFlags struct {
	Address      string            `mapstructure:"address"`
	BasePort     int               `mapstructure:"base-port"`
	Cells        int               `mapstructure:"cells"`
	CellCapacity datasize.ByteSize `mapstructure:"cell-capacity"`
	PageSize     int               `mapstructure:"page-size"`
	Legacy       bool              `mapstructure:"legacy"`
	ChunkAcks    bool              `mapstructure:"chunk-acks"`
	LogLevel     string            `mapstructure:"log-level"`
}

// GetSimulatorConfig reads the simulator configuration from viper
func GetSimulatorConfig() (common.SimulatorConfig, error) {
	var flags simulatorFlags
	if err := viper.Unmarshal(&flags, decodeHook()); err != nil {
		return common.SimulatorConfig{}, fmt.Errorf("reading simulator configuration: %w", err)
	}
	if flags.Cells <= 0 {
		return common.SimulatorConfig{}, fmt.Errorf("at least one cell is required, got %d", flags.Cells)
	}
	if flags.Cells > 255 {
		return common.SimulatorConfig{}, fmt.Errorf("cell ids are one byte, %d cells are too many", flags.Cells)
	}
	if _, err := common.ParseLogLevel(flags.LogLevel); err != nil {
		return common.SimulatorConfig{}, err
	}
	return common.SimulatorConfig(flags), nil
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
