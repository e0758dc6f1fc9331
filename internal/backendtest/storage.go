package backendtest

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tonero-cloud/safeguard/internal/models"
)

var errUserExists = errors.New("email already registered")

// User is an account held by the fake backend.
type User struct {
	models.Profile
	PasswordHash []byte
}

// Report is a report the backend accepted.
type Report struct {
	ID     string
	UserID string
	models.CreateReportRequest
	ReceivedAt time.Time
}

// Panic is a panic event and the pings logged against it.
type Panic struct {
	ID       string
	UserID   string
	Category string
	Active   bool
	Pings    []models.LocationPoint
}

// Escort is an escort session and its pings.
type Escort struct {
	ID     string
	UserID string
	Active bool
	Pings  []models.LocationPoint
}

// Storage is the backend state, kept in memory.
type Storage struct {
	mu      sync.RWMutex
	users   map[string]User // by email
	reports []Report
	panics  map[string]*Panic  // by user id, latest event
	escorts map[string]*Escort // by user id, latest session
}

func newStorage() *Storage {
	return &Storage{
		users:   make(map[string]User),
		panics:  make(map[string]*Panic),
		escorts: make(map[string]*Escort),
	}
}

func (s *Storage) addUser(p models.Profile, password string) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[p.Email]; ok {
		return User{}, errUserExists
	}
	p.ID = uuid.NewString()
	u := User{Profile: p, PasswordHash: hash}
	s.users[p.Email] = u
	return u, nil
}

func (s *Storage) authenticate(email, password string) (User, bool) {
	s.mu.RLock()
	u, ok := s.users[email]
	s.mu.RUnlock()
	if !ok || bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return User{}, false
	}
	return u, true
}

func (s *Storage) userByID(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.ID == id {
			return u, true
		}
	}
	return User{}, false
}

func (s *Storage) addReport(userID string, req models.CreateReportRequest) Report {
	r := Report{ID: uuid.NewString(), UserID: userID, CreateReportRequest: req, ReceivedAt: time.Now()}
	s.mu.Lock()
	s.reports = append(s.reports, r)
	s.mu.Unlock()
	return r
}

func (s *Storage) activatePanic(userID, category string, p models.LocationPoint) *Panic {
	ev := &Panic{ID: uuid.NewString(), UserID: userID, Category: category, Active: true, Pings: []models.LocationPoint{p}}
	s.mu.Lock()
	s.panics[userID] = ev
	s.mu.Unlock()
	return ev
}

// logPanic appends p to the user's active panic. It reports false when none is active.
func (s *Storage) logPanic(userID string, p models.LocationPoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.panics[userID]
	if !ok || !ev.Active {
		return false
	}
	ev.Pings = append(ev.Pings, p)
	return true
}

func (s *Storage) deactivatePanic(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.panics[userID]
	if !ok || !ev.Active {
		return false
	}
	ev.Active = false
	return true
}

func (s *Storage) startEscort(userID string, p models.LocationPoint) *Escort {
	e := &Escort{ID: uuid.NewString(), UserID: userID, Active: true, Pings: []models.LocationPoint{p}}
	s.mu.Lock()
	s.escorts[userID] = e
	s.mu.Unlock()
	return e
}

func (s *Storage) stopEscort(userID string, p models.LocationPoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escorts[userID]
	if !ok || !e.Active {
		return false
	}
	e.Pings = append(e.Pings, p)
	e.Active = false
	return true
}

func (s *Storage) logEscort(userID string, p models.LocationPoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escorts[userID]
	if !ok || !e.Active {
		return false
	}
	e.Pings = append(e.Pings, p)
	return true
}
