package scoring

import (
	"sync/atomic"
)

// Store holds the active Tables and allows lock-free swaps on reload.
type Store struct {
	p atomic.Pointer[Tables]
}

func NewStore(t *Tables) *Store {
	s := &Store{}
	s.Set(t)
	return s
}

func (s *Store) Get() *Tables {
	if t := s.p.Load(); t != nil {
		return t
	}
	return Empty()
}

func (s *Store) Set(t *Tables) {
	if t == nil {
		t = Empty()
	}
	s.p.Store(t)
}

// Reload loads path and swaps it in. On error the previous table stays active.
func (s *Store) Reload(path string) (*Tables, error) {
	t, err := Load(path)
	if err != nil {
		return nil, err
	}
	s.Set(t)
	return t, nil
}
