// internal/config/config.go
package config

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Device    DeviceConfig    `yaml:"device"`
	Sensor    SensorConfig    `yaml:"sensor"`
	Report    ReportConfig    `yaml:"report"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// ---- LOG ----

type LogConfig struct {
	Level  string `yaml:"level"`  // trace|debug|info|warning|error|critical
	Format string `yaml:"format"` // text|json
}

// ---- DEVICE (register transport) ----

type DeviceConfig struct {
	Transport  string `yaml:"transport"`   // rtu|tcp
	SerialPort string `yaml:"serial_port"` // rtu
	BaudRate   int    `yaml:"baud_rate"`   // rtu
	Endpoint   string `yaml:"endpoint"`    // tcp
	SlaveID    uint8  `yaml:"slave_id"`
	TimeoutMs  int    `yaml:"timeout_ms"`

	// GPIO name of the data-ready line; empty means always ready.
	ReadyPin string `yaml:"ready_pin"`
}

// ---- SENSOR ----

// SensorConfig holds desired device register values.
// Values are clamped to register range where they are used, not here.
type SensorConfig struct {
	AutomaticCalibration bool `yaml:"automatic_calibration"`
	TemperatureOffset    uint `yaml:"temperature_offset"` // hundredths of °C
	AltitudeCompensation uint `yaml:"altitude_compensation"`
	MeasurementInterval  uint `yaml:"measurement_interval"` // seconds
	AmbientPressure      uint `yaml:"ambient_pressure"`     // mbar, 0 = disabled
	ReadingInterval      uint `yaml:"reading_interval"`     // seconds, 0 = no sampling
}

// ---- REPORT ----

type ReportConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Threshold  uint   `yaml:"threshold"`
	URL        string `yaml:"url"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	SensorName string `yaml:"sensor_name"`
}

// ---- TELEMETRY (optional MQTT mirror) ----

type TelemetryConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

// ---- HTTP ----

type HTTPConfig struct {
	Listen string `yaml:"listen"`

	// Basic-auth password for the POST routes; empty locks them.
	AdminPassword string `yaml:"admin_password"`
}

// Default returns the configuration used when no file can be read.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Device: DeviceConfig{
			Transport:  "rtu",
			SerialPort: "/dev/ttyUSB0",
			BaudRate:   19200,
			SlaveID:    0x61,
			TimeoutMs:  100,
		},
		Sensor: SensorConfig{
			MeasurementInterval: 2,
			ReadingInterval:     5,
		},
		Telemetry: TelemetryConfig{
			ClientID: "scd30-monitor",
			Topic:    "scd30/readings",
		},
		HTTP: HTTPConfig{
			Listen: "127.0.0.1:9330",
		},
	}
}
