package catalog

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Territory is the static part of a map region. It never changes for the
// lifetime of the process.
type Territory struct {
	Code      string
	Name      string
	Area      float64
	Centroid  [2]float64
	Neighbors []string
}

type Catalog struct {
	ByCode map[string]Territory
	Codes  []string
	Digest string
}

type territoryDef struct {
	Name      string     `json:"name"`
	Area      float64    `json:"area"`
	Centroid  [2]float64 `json:"centroid"`
	Neighbors []string   `json:"neighbors"`
}

type catalogFile struct {
	Territories map[string]territoryDef `json:"territories"`
}

// Load reads a geometry catalog. Paths ending in .zst are zstd-compressed.
func Load(path string) (*Catalog, error) {
	raw, err := readFile(path)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return c, nil
}

// Parse validates raw catalog JSON against the embedded schema and builds the
// catalog. Neighbor relations are made symmetric.
func Parse(raw []byte) (*Catalog, error) {
	if err := validate(raw); err != nil {
		return nil, err
	}
	var f catalogFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}

	adj := make(map[string]map[string]struct{}, len(f.Territories))
	for code := range f.Territories {
		adj[code] = map[string]struct{}{}
	}
	for code, d := range f.Territories {
		for _, n := range d.Neighbors {
			if n == code {
				continue
			}
			if _, ok := f.Territories[n]; !ok {
				return nil, fmt.Errorf("territory %s: unknown neighbor %s", code, n)
			}
			adj[code][n] = struct{}{}
			adj[n][code] = struct{}{}
		}
	}

	c := &Catalog{
		ByCode: make(map[string]Territory, len(f.Territories)),
		Codes:  make([]string, 0, len(f.Territories)),
		Digest: sha256Hex(raw),
	}
	for code, d := range f.Territories {
		ns := make([]string, 0, len(adj[code]))
		for n := range adj[code] {
			ns = append(ns, n)
		}
		sort.Strings(ns)
		c.ByCode[code] = Territory{
			Code:      code,
			Name:      d.Name,
			Area:      d.Area,
			Centroid:  d.Centroid,
			Neighbors: ns,
		}
		c.Codes = append(c.Codes, code)
	}
	sort.Strings(c.Codes)
	return c, nil
}

func (c *Catalog) Lookup(code string) (Territory, bool) {
	t, ok := c.ByCode[code]
	return t, ok
}

func (c *Catalog) Has(code string) bool {
	_, ok := c.ByCode[code]
	return ok
}

func (c *Catalog) Name(code string) string {
	if t, ok := c.ByCode[code]; ok {
		return t.Name
	}
	return code
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if !strings.HasSuffix(path, ".zst") {
		return io.ReadAll(f)
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, dec); err != nil {
		return nil, fmt.Errorf("%s: zstd: %w", filepath.Base(path), err)
	}
	return buf.Bytes(), nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
