package history

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var embeddedSeed []byte

// seedFile is the on-disk seed shape shared by the YAML and JSON loaders.
// The XLSX loader derives the same shape from the raw invoice extract.
type seedFile struct {
	Version     string            `yaml:"version" json:"version"`
	Source      string            `yaml:"source" json:"source"`
	TaxRates    []float64         `yaml:"tax_rates" json:"tax_rates"`
	ItemAliases map[string]string `yaml:"item_aliases" json:"item_aliases"`
	Vendors     []seedVendor      `yaml:"vendors" json:"vendors"`
}

type seedVendor struct {
	ID          string     `yaml:"id" json:"id"`
	Aliases     []string   `yaml:"aliases" json:"aliases"`
	ShippingMax float64    `yaml:"shipping_max" json:"shipping_max"`
	Items       []seedItem `yaml:"items" json:"items"`
}

type seedItem struct {
	Name         string            `yaml:"name" json:"name"`
	Observations []seedObservation `yaml:"observations" json:"observations"`
}

type seedObservation struct {
	Price    float64 `yaml:"price" json:"price"`
	Quantity float64 `yaml:"quantity" json:"quantity"`
	Invoice  string  `yaml:"invoice" json:"invoice"`
}

// Load builds the table from a seed file, dispatching on extension
// (.yaml/.yml, .json, .xlsx). An empty path loads the embedded default seed.
// A load failure here is fatal to the caller: the comparator cannot run
// without the static table.
func Load(path string) (*Table, error) {
	if path == "" {
		return loadEmbedded()
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "history: read seed file")
		}
		seed, err := parseYAML(data)
		if err != nil {
			return nil, err
		}
		return buildTable(seed)
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "history: read seed file")
		}
		seed, err := parseJSON(data)
		if err != nil {
			return nil, err
		}
		return buildTable(seed)
	case ".xlsx":
		seed, err := parseExtractXLSX(path)
		if err != nil {
			return nil, err
		}
		return buildTable(seed)
	default:
		return nil, eris.Errorf("history: unsupported seed format %q", filepath.Ext(path))
	}
}

func loadEmbedded() (*Table, error) {
	seed, err := parseYAML(embeddedSeed)
	if err != nil {
		return nil, eris.Wrap(err, "history: embedded seed")
	}
	return buildTable(seed)
}

func parseYAML(data []byte) (seedFile, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return seedFile{}, eris.Wrap(err, "history: parse yaml seed")
	}
	return seed, nil
}

func parseJSON(data []byte) (seedFile, error) {
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return seedFile{}, eris.Wrap(err, "history: parse json seed")
	}
	return seed, nil
}
