// Package catalog holds the fixed product list offered by the bot.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var ErrEmptyCatalog = errors.New("catalog has no products")

type Product struct {
	Name        string
	Price       decimal.Decimal
	Description string
}

// Catalog is read-only once built and safe for concurrent use.
type Catalog struct {
	products []Product
	byName   map[string]Product
}

func New(products ...Product) (*Catalog, error) {
	if len(products) == 0 {
		return nil, ErrEmptyCatalog
	}

	c := &Catalog{
		products: make([]Product, 0, len(products)),
		byName:   make(map[string]Product, len(products)),
	}
	for _, p := range products {
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			return nil, fmt.Errorf("product name is empty")
		}
		if p.Price.IsNegative() {
			return nil, fmt.Errorf("product %q has negative price %s", p.Name, p.Price)
		}
		if _, dup := c.byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate product %q", p.Name)
		}
		c.products = append(c.products, p)
		c.byName[p.Name] = p
	}
	return c, nil
}

// Default is the reference price list.
func Default() *Catalog {
	c, err := New(
		Product{
			Name:        "Cedar Veil",
			Price:       decimal.NewFromInt(79),
			Description: "Dry cedarwood over a soft incense veil.",
		},
		Product{
			Name:        "Musk Reverie",
			Price:       decimal.NewFromInt(79),
			Description: "Clean white musk with a powdery iris heart.",
		},
		Product{
			Name:        "Mythos Blanc",
			Price:       decimal.NewFromInt(79),
			Description: "Bright bergamot and neroli on a pale amber base.",
		},
	)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Lookup(name string) (Product, bool) {
	p, ok := c.byName[name]
	return p, ok
}

// Find matches a product name ignoring case and surrounding whitespace.
func (c *Catalog) Find(name string) (Product, bool) {
	name = strings.TrimSpace(name)
	for _, p := range c.products {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Product{}, false
}

// Products returns the products in catalog order.
func (c *Catalog) Products() []Product {
	out := make([]Product, len(c.products))
	copy(out, c.products)
	return out
}

type fileProduct struct {
	Name        string `yaml:"name"`
	Price       string `yaml:"price"`
	Description string `yaml:"description"`
}

type file struct {
	Products []fileProduct `yaml:"products"`
}

// Load reads a catalog from a YAML file of the form:
//
//	products:
//	  - name: Cedar Veil
//	    price: "79"
//	    description: ...
func Load(path string) (*Catalog, error) {
	const operation = "catalog.Load"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: read %s: %w", operation, path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	return c, nil
}

func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal catalog: %w", err)
	}

	products := make([]Product, 0, len(f.Products))
	for _, fp := range f.Products {
		price, err := decimal.NewFromString(strings.TrimSpace(fp.Price))
		if err != nil {
			return nil, fmt.Errorf("product %q: invalid price %q: %w", fp.Name, fp.Price, err)
		}
		products = append(products, Product{
			Name:        fp.Name,
			Price:       price,
			Description: strings.TrimSpace(fp.Description),
		})
	}
	return New(products...)
}
