// Package config loads and validates the signing service configuration
// from YAML.
package config

import (
	"crypto"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrConfigurationError is the root of all configuration failures.
var ErrConfigurationError = errors.New("configuration error")

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrConfigurationError
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// CredentialConfig selects the signing credential: a PKCS#12 file or a
// PKCS#11 token. Exactly one of the two sections must be present.
type CredentialConfig struct {
	// PKCS12 contains file-credential configuration.
	PKCS12 *PKCS12Config `yaml:"pkcs12"`

	// PKCS11 contains token-credential configuration.
	PKCS11 *PKCS11Config `yaml:"pkcs11"`
}

// Validate validates the credential configuration.
func (c *CredentialConfig) Validate() error {
	if c.PKCS12 == nil && c.PKCS11 == nil {
		return NewConfigError("credential", "one of pkcs12 or pkcs11 is required")
	}
	if c.PKCS12 != nil && c.PKCS11 != nil {
		return NewConfigError("credential", "pkcs12 and pkcs11 are mutually exclusive")
	}
	if c.PKCS12 != nil {
		return c.PKCS12.Validate()
	}
	return c.PKCS11.Validate()
}

// PKCS12Config contains configuration for signing using a PKCS#12 file.
type PKCS12Config struct {
	// PFXFile is the path to the PKCS#12 file.
	PFXFile string `yaml:"pfx-file"`

	// PFXPassphrase is the PKCS#12 passphrase.
	PFXPassphrase string `yaml:"pfx-passphrase"`

	// PreferPSS indicates whether to prefer PSS padding for RSA keys.
	PreferPSS bool `yaml:"prefer-pss"`
}

// Validate validates the PKCS#12 configuration.
func (c *PKCS12Config) Validate() error {
	if c.PFXFile == "" {
		return NewConfigError("pkcs12.pfx-file", "required field is missing")
	}
	return nil
}

// PKCS11Config contains configuration for signing with a token key.
type PKCS11Config struct {
	// ModulePath is the path to the PKCS#11 shared object.
	ModulePath string `yaml:"module-path"`

	// TokenLabel selects the token; the first token is used when empty.
	TokenLabel string `yaml:"token-label"`

	// UserPIN is the user PIN for authentication.
	UserPIN string `yaml:"user-pin"`

	// KeyLabel is the CKA_LABEL of the private key.
	KeyLabel string `yaml:"key-label"`

	// CertificateFile is the path to the signer's certificate. Token
	// keys sign only; the certificate travels alongside.
	CertificateFile string `yaml:"certificate"`
}

// Validate validates the PKCS#11 configuration.
func (c *PKCS11Config) Validate() error {
	if c.ModulePath == "" {
		return NewConfigError("pkcs11.module-path", "PKCS#11 module path is required")
	}
	if c.CertificateFile == "" {
		return NewConfigError("pkcs11.certificate", "signer certificate is required for token keys")
	}
	return nil
}

// StampConfig contains the visual stamp settings.
type StampConfig struct {
	// ScaleFactor shrinks the placement rectangle about its center.
	ScaleFactor float64 `yaml:"scale-factor"`

	// Quality selects the image codec: 100 keeps the image lossless,
	// lower values re-encode as JPEG at that quality.
	Quality int `yaml:"quality"`

	// Contrast multiplies pixel distance from mid grey. 1.0 leaves the
	// image untouched.
	Contrast float64 `yaml:"contrast"`

	// Sharpen is the unsharp-mask amount. 0 disables sharpening.
	Sharpen float64 `yaml:"sharpen"`

	// Opacity of the stamp, 0 to 1.
	Opacity float64 `yaml:"opacity"`

	// Caption toggles the "Signed by" text under the image.
	Caption bool `yaml:"caption"`
}

// Validate validates the stamp configuration.
func (c *StampConfig) Validate() error {
	if c.ScaleFactor <= 0 || c.ScaleFactor > 1 {
		return NewConfigError("stamp.scale-factor", "must be in (0, 1]")
	}
	if c.Quality < 1 || c.Quality > 100 {
		return NewConfigError("stamp.quality", "must be in [1, 100]")
	}
	if c.Opacity < 0 || c.Opacity > 1 {
		return NewConfigError("stamp.opacity", "must be in [0, 1]")
	}
	return nil
}

// GridConfig lays out per-day cells for whole-month stamping.
type GridConfig struct {
	Rows int `yaml:"rows"`
	Cols int `yaml:"cols"`

	// MaxCells caps the usable cells, matching the days of the month.
	MaxCells int `yaml:"max-cells"`
}

// Validate validates the grid configuration.
func (c *GridConfig) Validate() error {
	if c.Rows < 1 || c.Cols < 1 {
		return NewConfigError("grid", "rows and cols must be positive")
	}
	if c.MaxCells < 0 {
		return NewConfigError("grid.max-cells", "must not be negative")
	}
	return nil
}

// SigningConfig contains the cryptographic and dictionary settings of
// the produced signature.
type SigningConfig struct {
	// Hash is the digest algorithm: sha256, sha384 or sha512.
	Hash string `yaml:"hash"`

	// ReservedSize is the placeholder capacity in bytes. 0 uses the
	// built-in default.
	ReservedSize int `yaml:"reserved-size"`

	// Reason, Location and ContactInfo populate the signature
	// dictionary.
	Reason      string `yaml:"reason"`
	Location    string `yaml:"location"`
	ContactInfo string `yaml:"contact-info"`
}

// Validate validates the signing configuration.
func (c *SigningConfig) Validate() error {
	if _, err := c.HashFunc(); err != nil {
		return err
	}
	if c.ReservedSize < 0 {
		return NewConfigError("signing.reserved-size", "must not be negative")
	}
	return nil
}

// HashFunc resolves the configured digest algorithm name.
func (c *SigningConfig) HashFunc() (crypto.Hash, error) {
	switch strings.ToLower(c.Hash) {
	case "", "sha256", "sha-256":
		return crypto.SHA256, nil
	case "sha384", "sha-384":
		return crypto.SHA384, nil
	case "sha512", "sha-512":
		return crypto.SHA512, nil
	}
	return 0, NewConfigError("signing.hash", fmt.Sprintf("unknown digest %q (sha256, sha384 or sha512)", c.Hash))
}

// RectConfig is a placement rectangle in page coordinates.
type RectConfig struct {
	LLX float64 `yaml:"llx"`
	LLY float64 `yaml:"lly"`
	URX float64 `yaml:"urx"`
	URY float64 `yaml:"ury"`
}

// Validate validates the rectangle.
func (c *RectConfig) Validate() error {
	if c.URX <= c.LLX || c.URY <= c.LLY {
		return NewConfigError("placements", "rectangle has no area")
	}
	return nil
}

// PlacementConfig overrides the built-in placement layout for one role.
type PlacementConfig struct {
	// Rects are the stamp rectangles for the role, one widget each.
	Rects []RectConfig `yaml:"rects"`

	// AdjustY shifts all rectangles upward for single-day documents.
	AdjustY float64 `yaml:"adjust-y"`
}

// Validate validates the placement override.
func (c *PlacementConfig) Validate() error {
	if len(c.Rects) == 0 {
		return NewConfigError("placements", "at least one rectangle is required")
	}
	for i := range c.Rects {
		if err := c.Rects[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// Format is the log format (console, json).
	Format string `yaml:"format"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
}

// Validate validates the logging configuration.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return NewConfigError("logging.level", fmt.Sprintf("unknown level %q", c.Level))
	}
	switch c.Format {
	case "console", "json":
	default:
		return NewConfigError("logging.format", fmt.Sprintf("unknown format %q", c.Format))
	}
	return nil
}

// Config is the complete application configuration.
type Config struct {
	// Credential selects the signing credential.
	Credential CredentialConfig `yaml:"credential"`

	// Stamp contains visual stamp settings.
	Stamp StampConfig `yaml:"stamp"`

	// Grid lays out whole-month cells.
	Grid GridConfig `yaml:"grid"`

	// Signing contains signature settings.
	Signing SigningConfig `yaml:"signing"`

	// Placements overrides the built-in layout per role name.
	Placements map[string]*PlacementConfig `yaml:"placements"`

	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// Default returns the configuration with all defaults applied and no
// credential selected.
func Default() *Config {
	c := &Config{
		Stamp: StampConfig{
			ScaleFactor: 0.9,
			Quality:     100,
			Contrast:    1.4,
			Sharpen:     1.5,
			Opacity:     1,
			Caption:     true,
		},
		Grid: GridConfig{Rows: 8, Cols: 4, MaxCells: 31},
		Signing: SigningConfig{
			Hash: "sha256",
		},
	}
	c.Logging.SetDefaults()
	return c
}

// Load reads and validates a YAML configuration file. Sections absent
// from the file keep their defaults.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfigurationError, filename, err)
	}
	return Parse(data)
}

// Parse parses and validates YAML configuration data.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrConfigurationError, err)
	}
	config.Logging.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate validates every section.
func (c *Config) Validate() error {
	if err := c.Credential.Validate(); err != nil {
		return err
	}
	if err := c.Stamp.Validate(); err != nil {
		return err
	}
	if err := c.Grid.Validate(); err != nil {
		return err
	}
	if err := c.Signing.Validate(); err != nil {
		return err
	}
	for role, p := range c.Placements {
		if p == nil {
			return NewConfigError("placements."+role, "empty placement override")
		}
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return c.Logging.Validate()
}
