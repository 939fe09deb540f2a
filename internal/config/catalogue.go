package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"alliance.ledger/internal/ledger"
)

type catalogueFile struct {
	Packages []struct {
		Name       string `yaml:"name"`
		Percentage string `yaml:"percentage"`
		Days       int    `yaml:"days"`
		Minimum    string `yaml:"minimum"`
	} `yaml:"packages"`
}

// LoadCatalogue reads the package catalogue from a YAML file.
func LoadCatalogue(path string) (*ledger.Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	return ParseCatalogue(data)
}

func ParseCatalogue(data []byte) (*ledger.Catalogue, error) {
	var file catalogueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalogue: %w", err)
	}

	pkgs := make([]ledger.Package, 0, len(file.Packages))
	for _, p := range file.Packages {
		pct, err := decimal.NewFromString(p.Percentage)
		if err != nil {
			return nil, fmt.Errorf("package %q percentage: %w", p.Name, err)
		}
		minimum := decimal.Zero
		if p.Minimum != "" {
			if minimum, err = decimal.NewFromString(p.Minimum); err != nil {
				return nil, fmt.Errorf("package %q minimum: %w", p.Name, err)
			}
		}
		pkgs = append(pkgs, ledger.Package{
			Name:       p.Name,
			Percentage: pct,
			Days:       p.Days,
			Minimum:    minimum,
		})
	}
	return ledger.NewCatalogue(pkgs)
}
