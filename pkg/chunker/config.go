/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package chunker

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type BreakpointPolicy string

const (
	Percentile        BreakpointPolicy = "PERCENTILE"
	StandardDeviation BreakpointPolicy = "STANDARD_DEVIATION"
	Interquartile     BreakpointPolicy = "INTERQUARTILE"
	Gradient          BreakpointPolicy = "GRADIENT"
)

// Params tune one pass of the semantic splitter. Threshold means the
// percentile p for PERCENTILE and GRADIENT, and the multiplier k for
// STANDARD_DEVIATION and INTERQUARTILE.
type Params struct {
	BufferSize int              `toml:"buffer_size"`
	Policy     BreakpointPolicy `toml:"policy"`
	Threshold  float64          `toml:"threshold"`
}

type Config struct {
	Parent Params `toml:"parent"`
	Child  Params `toml:"child"`
}

// DefaultConfig is the tuning shipped with the system: coarse parents cut by
// interquartile outliers, fine children cut at the 85th percentile.
func DefaultConfig() Config {
	return Config{
		Parent: Params{BufferSize: 3, Policy: Interquartile, Threshold: 1.5},
		Child:  Params{BufferSize: 1, Policy: Percentile, Threshold: 85},
	}
}

// LoadConfig overlays a TOML file onto the defaults. An empty path returns
// the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading chunker config %q, %w", path, err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing chunker config %q, %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	for _, p := range []Params{c.Parent, c.Child} {
		if p.BufferSize < 1 {
			return fmt.Errorf("buffer_size must be at least 1")
		}
		switch p.Policy {
		case Percentile, Gradient:
			if p.Threshold <= 0 || p.Threshold >= 100 {
				return fmt.Errorf("percentile threshold must be within (0, 100)")
			}
		case StandardDeviation, Interquartile:
			if p.Threshold <= 0 {
				return fmt.Errorf("multiplier threshold must be positive")
			}
		default:
			return fmt.Errorf("unknown breakpoint policy %q", p.Policy)
		}
	}
	return nil
}
