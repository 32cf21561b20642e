package parser

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/imishinist/aqi-mlops/internal/models"
)

// ParseYAMLParams reads params.yaml. Both the flat "parameters" map and the
// "train" hyperparameter section are returned as one map.
func ParseYAMLParams(reader io.Reader) (map[string]string, error) {
	var data models.ParametersFile
	if err := yaml.NewDecoder(reader).Decode(&data); err != nil {
		return nil, eris.Wrap(err, "parse YAML parameters")
	}
	return data.Flatten(), nil
}

func ParseYAMLMetrics(reader io.Reader) (*models.MetricsFile, error) {
	var data models.MetricsFile
	if err := yaml.NewDecoder(reader).Decode(&data); err != nil {
		return nil, eris.Wrap(err, "parse YAML metrics")
	}
	return &data, nil
}

// ParamsByExtension picks the params parser from the file name.
func ParamsByExtension(name string, reader io.Reader) (map[string]string, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".json":
		return ParseJSONParams(reader)
	case ".yaml", ".yml":
		return ParseYAMLParams(reader)
	default:
		return nil, eris.Errorf("unsupported file format: %s (supported: .json, .yaml, .yml)", ext)
	}
}

// MetricsByExtension picks the metrics parser from the file name.
func MetricsByExtension(name string, reader io.Reader) (*models.MetricsFile, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".json":
		return ParseJSONMetrics(reader)
	case ".yaml", ".yml":
		return ParseYAMLMetrics(reader)
	default:
		return nil, eris.Errorf("unsupported file format: %s (supported: .json, .yaml, .yml)", ext)
	}
}
