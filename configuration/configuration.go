package configuration

import (
	"fmt"
	"os"

	"github.com/bartossh/ledgerdriver/devnode"
	"github.com/bartossh/ledgerdriver/driver"
	"github.com/bartossh/ledgerdriver/fileoperations"
	"github.com/bartossh/ledgerdriver/txstore"
	"github.com/bartossh/ledgerdriver/zincadapter"
	"gopkg.in/yaml.v2"
)

// Telemetry contains configuration of the metrics endpoint.
type Telemetry struct {
	Port int `yaml:"port"` // Port serving /metrics, metrics are not served when 0.
}

// Configuration is the main configuration of the application that corresponds to the *.yaml file
// that holds the configuration.
type Configuration struct {
	Driver       driver.Config         `yaml:"driver"`
	DevNode      devnode.Config        `yaml:"dev_node"`
	FileOperator fileoperations.Config `yaml:"file_operator"`
	Store        txstore.Config        `yaml:"store"`
	ZincLogger   zincadapter.Config    `yaml:"zinc_logger"`
	Telemetry    Telemetry             `yaml:"telemetry"`
}

// Read reads the configuration from the file and returns the Configuration with set fields according to the yaml setup.
func Read(path string) (Configuration, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, err
	}

	var main Configuration
	err = yaml.Unmarshal(buf, &main)
	if err != nil {
		return Configuration{}, fmt.Errorf("in file %q: %w", path, err)
	}

	return main, err
}
