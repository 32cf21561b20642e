package parser

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"

	"github.com/imishinist/aqi-mlops/internal/models"
)

// ParseJSONParams reads a params file and returns it flattened.
func ParseJSONParams(reader io.Reader) (map[string]string, error) {
	var data models.ParametersFile
	if err := json.NewDecoder(reader).Decode(&data); err != nil {
		return nil, eris.Wrap(err, "parse JSON parameters")
	}
	return data.Flatten(), nil
}

func ParseJSONMetrics(reader io.Reader) (*models.MetricsFile, error) {
	var data models.MetricsFile
	if err := json.NewDecoder(reader).Decode(&data); err != nil {
		return nil, eris.Wrap(err, "parse JSON metrics")
	}
	return &data, nil
}
