package domain

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Steps []stepEntry `yaml:"steps"`
}

type stepEntry struct {
	ID            int        `yaml:"id"`
	Title         string     `yaml:"title"`
	TargetSeconds int        `yaml:"targetSeconds"`
	Practices     []Practice `yaml:"practices"`
}

// Catalog is the read-only step/practice provider.
type Catalog struct {
	steps map[int]Step
}

func NewCatalog(steps ...Step) *Catalog {
	c := &Catalog{steps: make(map[int]Step, len(steps))}
	for _, s := range steps {
		c.add(s)
	}
	return c
}

func (c *Catalog) add(s Step) {
	for i := range s.Practices {
		s.Practices[i].StepID = s.ID
		s.Practices[i].Index = i
		s.Practices[i].Completed = false
	}
	c.steps[s.ID] = s
}

// LoadCatalog reads a YAML catalog file. Steps that declare targetSeconds and
// no explicit practices get a generated warmup sequence seeded by the step id,
// so the same file always yields the same practices.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	return ParseCatalog(f)
}

func ParseCatalog(r io.Reader) (*Catalog, error) {
	var file catalogFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{steps: make(map[int]Step, len(file.Steps))}
	for _, e := range file.Steps {
		if _, dup := c.steps[e.ID]; dup {
			return nil, fmt.Errorf("duplicate step id %d", e.ID)
		}

		practices := e.Practices
		if len(practices) == 0 && e.TargetSeconds > 0 {
			r := rand.New(rand.NewSource(int64(e.ID)))
			practices = GeneratePractices(e.ID, e.TargetSeconds, r)
		}

		for i, p := range practices {
			if p.DurationSeconds <= 0 {
				return nil, fmt.Errorf("step %d practice %d: duration must be positive", e.ID, i)
			}
		}

		c.add(Step{ID: e.ID, Title: e.Title, Practices: practices})
	}

	return c, nil
}

func (c *Catalog) Step(id int) (Step, error) {
	s, ok := c.steps[id]
	if !ok {
		return Step{}, ErrStepNotFound
	}
	return s, nil
}

// Steps returns all steps ordered by id.
func (c *Catalog) Steps() []Step {
	out := make([]Step, 0, len(c.steps))
	for _, s := range c.steps {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Duration looks up the configured duration of one practice.
func (c *Catalog) Duration(stepID, practiceIndex int) (time.Duration, error) {
	s, err := c.Step(stepID)
	if err != nil {
		return 0, err
	}
	p, err := s.Practice(practiceIndex)
	if err != nil {
		return 0, err
	}
	return time.Duration(p.DurationSeconds) * time.Second, nil
}
