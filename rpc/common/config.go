package common

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
)

// --------------------------------------------------------------------------
// Debug flags
// --------------------------------------------------------------------------

// DebugFlag enables debug logging for one component
type DebugFlag uint32

const (
	DebugTransport DebugFlag = 1 << iota // HTTP exchanges
	DebugProtocol                        // operation state machines
	DebugChunks                          // chunk acknowledgments
	DebugQuery                           // query cursor and pagination
	DebugCell                            // multicell descriptor and routing
	DebugClient                          // session facade

	DebugAll DebugFlag = DebugTransport | DebugProtocol | DebugChunks | DebugQuery | DebugCell | DebugClient
)

var debugFlagNames = map[string]DebugFlag{
	"transport": DebugTransport,
	"protocol":  DebugProtocol,
	"chunks":    DebugChunks,
	"query":     DebugQuery,
	"cell":      DebugCell,
	"client":    DebugClient,
	"all":       DebugAll,
}

// ParseDebugFlags converts a list of component names into flags
func ParseDebugFlags(names []string) (DebugFlag, error) {
	var flags DebugFlag
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		f, ok := debugFlagNames[n]
		if !ok {
			return 0, fmt.Errorf("unknown debug component %q", n)
		}
		flags |= f
	}
	return flags, nil
}

func (f DebugFlag) String() string {
	if f == 0 {
		return "none"
	}
	if f&DebugAll == DebugAll {
		return "all"
	}
	var parts []string
	for _, n := range []string{"transport", "protocol", "chunks", "query", "cell", "client"} {
		if f&debugFlagNames[n] != 0 {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, ",")
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds the tuning of one client session. There is no process
// wide state; every session carries its own configuration.
type ClientConfig struct {
	// Logging
	LogLevel   string
	DebugFlags DebugFlag
	DebugSink  io.Writer // nil writes to stderr

	// Low throughput watchdog: an exchange that moves less than
	// LowSpeedLimit bytes per second for LowSpeedTimeSecond seconds is
	// aborted. 0 disables the watchdog.
	LowSpeedTimeSecond int
	LowSpeedLimit      datasize.ByteSize

	// Buffers
	UploadBufferSize datasize.ByteSize
	ErrorTextLimit   datasize.ByteSize

	// Chunk acknowledgments (failsafe windowing). ChunkWindow 0 disables
	// the chunk acknowledgment protocol.
	ChunkSize   datasize.ByteSize
	ChunkWindow int

	// Blocking operations wait at most PollInterval between two steps
	PollInterval time.Duration

	// SchemaTTL bounds how long a fetched schema is used. 0 caches forever.
	SchemaTTL time.Duration

	// DefaultMaxResults is the page size of queries that do not set one
	DefaultMaxResults int
}

// DefaultClientConfig returns a configuration with sensible defaults
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		LogLevel:           "info",
		LowSpeedTimeSecond: 300,
		LowSpeedLimit:      1 * datasize.B,
		UploadBufferSize:   64 * datasize.KB,
		ErrorTextLimit:     4 * datasize.KB,
		ChunkSize:          1 * datasize.MB,
		ChunkWindow:        0,
		PollInterval:       50 * time.Millisecond,
		SchemaTTL:          0,
		DefaultMaxResults:  1000,
	}
}

// Validate checks the configuration for values the client cannot work with
func (c *ClientConfig) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.UploadBufferSize == 0 {
		return fmt.Errorf("upload buffer size must be positive")
	}
	if c.ChunkWindow < 0 {
		return fmt.Errorf("chunk window must not be negative")
	}
	if c.ChunkWindow > 0 && c.ChunkSize == 0 {
		return fmt.Errorf("chunk size must be positive when the chunk window is enabled")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.DefaultMaxResults <= 0 {
		return fmt.Errorf("default max results must be positive")
	}
	return nil
}

// ChunkAcksEnabled reports whether uploads use chunk acknowledgments
func (c *ClientConfig) ChunkAcksEnabled() bool {
	return c.ChunkWindow > 0
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	addField("Debug", c.DebugFlags.String())

	addSection("Transport")
	if c.LowSpeedTimeSecond > 0 {
		addField("Low Speed", fmt.Sprintf("%s/s for %d sec", c.LowSpeedLimit.HR(), c.LowSpeedTimeSecond))
	} else {
		addField("Low Speed", "disabled")
	}
	addField("Upload Buffer", c.UploadBufferSize.HR())
	addField("Error Text Limit", c.ErrorTextLimit.HR())
	addField("Poll Interval", c.PollInterval.String())

	addSection("Chunk Acknowledgments")
	if c.ChunkAcksEnabled() {
		addField("Chunk Size", c.ChunkSize.HR())
		addField("Window", strconv.Itoa(c.ChunkWindow))
	} else {
		addField("Window", "disabled")
	}

	addSection("Queries")
	addField("Default Max Results", strconv.Itoa(c.DefaultMaxResults))
	if c.SchemaTTL > 0 {
		addField("Schema TTL", c.SchemaTTL.String())
	} else {
		addField("Schema TTL", "never expires")
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// Simulator configuration struct
// --------------------------------------------------------------------------

// SimulatorConfig configures the in-memory cluster of the simulate command
type SimulatorConfig struct {
	Address      string
	BasePort     int
	Cells        int
	CellCapacity datasize.ByteSize
	PageSize     int
	Legacy       bool
	ChunkAcks    bool
	LogLevel     string
}

// String returns a formatted string representation of the simulator configuration
func (c *SimulatorConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Simulated Cluster")
	for i := 0; i < c.Cells; i++ {
		addField(fmt.Sprintf("Cell %d", i+1), fmt.Sprintf("%s:%d", c.Address, c.BasePort+i))
	}
	addField("Capacity per Cell", c.CellCapacity.HR())
	addField("Page Size", strconv.Itoa(c.PageSize))
	addField("Legacy Metadata", strconv.FormatBool(c.Legacy))
	addField("Chunk Acks", strconv.FormatBool(c.ChunkAcks))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
