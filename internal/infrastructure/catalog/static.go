package catalog

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"mealsub-backend/internal/domain"
	"mealsub-backend/internal/money"
)

// Static serves menus held in memory, optionally seeded from a YAML file.
type Static struct {
	mu       sync.RWMutex
	byDate   map[string]map[string]domain.MenuItem
	everyday map[string]domain.MenuItem
}

func NewStatic() *Static {
	return &Static{byDate: make(map[string]map[string]domain.MenuItem)}
}

// Publish replaces the menu of day.
func (s *Static) Publish(day domain.Date, items ...domain.MenuItem) {
	m := make(map[string]domain.MenuItem, len(items))
	for _, it := range items {
		m[it.ID] = it
	}
	s.mu.Lock()
	s.byDate[day.String()] = m
	s.mu.Unlock()
}

// PublishEveryday sets the menu served for dates without their own.
func (s *Static) PublishEveryday(items ...domain.MenuItem) {
	m := make(map[string]domain.MenuItem, len(items))
	for _, it := range items {
		m[it.ID] = it
	}
	s.mu.Lock()
	s.everyday = m
	s.mu.Unlock()
}

func (s *Static) ActiveMenu(_ context.Context, day domain.Date) (map[string]domain.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.byDate[day.String()]
	if !ok {
		src = s.everyday
	}
	out := make(map[string]domain.MenuItem, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out, nil
}

type seedFile struct {
	Everyday []seedItem `yaml:"everyday"`
	Menus    []struct {
		Date  string     `yaml:"date"`
		Items []seedItem `yaml:"items"`
	} `yaml:"menus"`
}

type seedItem struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Price string `yaml:"price"`
}

func (it seedItem) toDomain() (domain.MenuItem, error) {
	if it.ID == "" {
		return domain.MenuItem{}, fmt.Errorf("menu item without id")
	}
	price, err := money.Parse(it.Price)
	if err != nil {
		return domain.MenuItem{}, fmt.Errorf("menu item %s: %w", it.ID, err)
	}
	if !price.IsPositive() {
		return domain.MenuItem{}, fmt.Errorf("menu item %s: price must be positive", it.ID)
	}
	return domain.MenuItem{ID: it.ID, Name: it.Name, Price: price}, nil
}

func convert(items []seedItem) ([]domain.MenuItem, error) {
	out := make([]domain.MenuItem, 0, len(items))
	for _, it := range items {
		mi, err := it.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, mi)
	}
	return out, nil
}

// LoadFile reads a YAML menu seed into a new Static catalog.
func LoadFile(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read menu file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Static, error) {
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse menu file: %w", err)
	}
	s := NewStatic()
	every, err := convert(f.Everyday)
	if err != nil {
		return nil, err
	}
	if len(every) > 0 {
		s.PublishEveryday(every...)
	}
	for _, m := range f.Menus {
		day, err := domain.ParseDate(m.Date)
		if err != nil {
			return nil, fmt.Errorf("menu date %q: %w", m.Date, err)
		}
		items, err := convert(m.Items)
		if err != nil {
			return nil, err
		}
		s.Publish(day, items...)
	}
	return s, nil
}
