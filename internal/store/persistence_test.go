package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"polywatch/config"
	"polywatch/internal/model"
)

type fakeAlertStore struct {
	inserted  []*model.Alert
	insertErr error
	recent    bool
	recentErr error
	notified  []string
}

func (s *fakeAlertStore) Insert(ctx context.Context, a *model.Alert) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, a)
	return nil
}

func (s *fakeAlertStore) HasRecentNonDismissed(ctx context.Context, wallet, marketID string, window time.Duration) (bool, error) {
	return s.recent, s.recentErr
}

func (s *fakeAlertStore) MarkNotified(ctx context.Context, id string) error {
	s.notified = append(s.notified, id)
	return nil
}

type fakeLocker struct {
	granted  bool
	err      error
	acquired int
	released int
}

func (l *fakeLocker) AcquireAlertLock(ctx context.Context, wallet, marketID string) (bool, error) {
	l.acquired++
	return l.granted, l.err
}

func (l *fakeLocker) ReleaseAlertLock(ctx context.Context, wallet, marketID string) {
	l.released++
}

type fakeNotifier struct {
	accept bool
	sent   []*model.Alert
}

func (n *fakeNotifier) Notify(ctx context.Context, alert *model.Alert) bool {
	n.sent = append(n.sent, alert)
	return n.accept
}

func testAlert(classification string, confidence float64) *model.Alert {
	return &model.Alert{
		TradeID:         "t1",
		WalletAddress:   "0xabc",
		MarketID:        "m1",
		Classification:  classification,
		ConfidenceScore: confidence,
	}
}

func newWriter(alerts AlertStore, locker AlertLocker, notifier Notifier) *AlertWriter {
	return NewAlertWriter(nil, config.NewLiveConfig(config.Defaults()), alerts, locker, notifier)
}

func TestPersistWritesAndNotifies(t *testing.T) {
	alerts := &fakeAlertStore{}
	locker := &fakeLocker{granted: true}
	notifier := &fakeNotifier{accept: true}
	w := newWriter(alerts, locker, notifier)

	ok, err := w.Persist(context.Background(), testAlert(model.ClassHighConfidence, 90))
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if !ok {
		t.Fatal("Persist = false, want persisted")
	}
	if len(alerts.inserted) != 1 {
		t.Fatalf("inserted = %d rows", len(alerts.inserted))
	}
	if alerts.inserted[0].ID == "" {
		t.Error("alert id not assigned")
	}
	if alerts.inserted[0].Timestamp.IsZero() {
		t.Error("alert timestamp not assigned")
	}
	if len(notifier.sent) != 1 {
		t.Errorf("notifications sent = %d, want 1", len(notifier.sent))
	}
	if len(alerts.notified) != 1 {
		t.Errorf("marked notified = %v, want the new alert", alerts.notified)
	}
	if locker.released != 1 {
		t.Errorf("lock released = %d, want 1", locker.released)
	}
}

func TestPersistSuppressedWhenLockHeld(t *testing.T) {
	alerts := &fakeAlertStore{}
	locker := &fakeLocker{granted: false}
	w := newWriter(alerts, locker, nil)

	ok, err := w.Persist(context.Background(), testAlert(model.ClassHighConfidence, 90))
	if err != nil || ok {
		t.Fatalf("Persist = (%v, %v), want suppressed", ok, err)
	}
	if len(alerts.inserted) != 0 {
		t.Errorf("inserted = %d rows behind a held lock", len(alerts.inserted))
	}
	if locker.released != 0 {
		t.Error("released a lock that was never acquired")
	}
}

func TestPersistProceedsWhenLockServiceDown(t *testing.T) {
	alerts := &fakeAlertStore{}
	locker := &fakeLocker{err: errors.New("redis down")}
	w := newWriter(alerts, locker, nil)

	ok, err := w.Persist(context.Background(), testAlert(model.ClassHighConfidence, 90))
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if !ok {
		t.Fatal("Persist = false; lock outage must not block alerts")
	}
	if len(alerts.inserted) != 1 {
		t.Errorf("inserted = %d rows", len(alerts.inserted))
	}
}

func TestPersistSuppressedByRecentAlert(t *testing.T) {
	alerts := &fakeAlertStore{recent: true}
	w := newWriter(alerts, &fakeLocker{granted: true}, nil)

	ok, err := w.Persist(context.Background(), testAlert(model.ClassHighConfidence, 90))
	if err != nil || ok {
		t.Fatalf("Persist = (%v, %v), want suppressed by window", ok, err)
	}
	if len(alerts.inserted) != 0 {
		t.Errorf("inserted = %d rows inside the window", len(alerts.inserted))
	}
}

func TestPersistSuppressedByUniqueConstraint(t *testing.T) {
	alerts := &fakeAlertStore{insertErr: ErrDuplicateAlert}
	w := newWriter(alerts, &fakeLocker{granted: true}, nil)

	ok, err := w.Persist(context.Background(), testAlert(model.ClassHighConfidence, 90))
	if err != nil {
		t.Fatalf("Persist: duplicate must not surface as error, got %v", err)
	}
	if ok {
		t.Fatal("Persist = true for a duplicate trade id")
	}
}

func TestPersistSurfacesInsertErrors(t *testing.T) {
	alerts := &fakeAlertStore{insertErr: errors.New("db down")}
	w := newWriter(alerts, &fakeLocker{granted: true}, nil)

	if _, err := w.Persist(context.Background(), testAlert(model.ClassHighConfidence, 90)); err == nil {
		t.Fatal("Persist swallowed a database error")
	}
}

func TestLowConfidenceAlertPersistsWithoutNotification(t *testing.T) {
	alerts := &fakeAlertStore{}
	notifier := &fakeNotifier{accept: true}
	w := newWriter(alerts, nil, notifier)

	// Default MinConfidenceScore is 75.
	ok, err := w.Persist(context.Background(), testAlert(model.ClassHighConfidence, 60))
	if err != nil || !ok {
		t.Fatalf("Persist = (%v, %v)", ok, err)
	}
	if len(notifier.sent) != 0 {
		t.Errorf("notifications sent = %d for low-confidence alert", len(notifier.sent))
	}
}

func TestStrongClassificationBypassesConfidenceGate(t *testing.T) {
	alerts := &fakeAlertStore{}
	notifier := &fakeNotifier{accept: true}
	w := newWriter(alerts, nil, notifier)

	ok, err := w.Persist(context.Background(), testAlert(model.ClassStrongInsider, 40))
	if err != nil || !ok {
		t.Fatalf("Persist = (%v, %v)", ok, err)
	}
	if len(notifier.sent) != 1 {
		t.Errorf("notifications sent = %d, want 1", len(notifier.sent))
	}
}

// contendedLocker grants the (wallet, market) lock to one holder at a
// time, like the Redis SetNX lock does.
type contendedLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *contendedLocker) AcquireAlertLock(ctx context.Context, wallet, marketID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := wallet + ":" + marketID
	if l.held[key] {
		return false, nil
	}
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	l.held[key] = true
	return true, nil
}

func (l *contendedLocker) ReleaseAlertLock(ctx context.Context, wallet, marketID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, wallet+":"+marketID)
}

// contendedStore answers the window query from what it has inserted,
// like the real repository does.
type contendedStore struct {
	mu       sync.Mutex
	inserted []*model.Alert
}

func (s *contendedStore) Insert(ctx context.Context, a *model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, a)
	return nil
}

func (s *contendedStore) HasRecentNonDismissed(ctx context.Context, wallet, marketID string, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.inserted {
		if a.WalletAddress == wallet && a.MarketID == marketID {
			return true, nil
		}
	}
	return false, nil
}

func (s *contendedStore) MarkNotified(ctx context.Context, id string) error {
	return nil
}

func (s *contendedStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted)
}

func TestConcurrentPersistInsertsExactlyOnce(t *testing.T) {
	for _, workers := range []int{4, 16} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			alerts := &contendedStore{}
			w := newWriter(alerts, &contendedLocker{}, nil)

			var wg sync.WaitGroup
			errs := make(chan error, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					a := testAlert(model.ClassHighConfidence, 90)
					a.TradeID = fmt.Sprintf("t%d", n)
					if _, err := w.Persist(context.Background(), a); err != nil {
						errs <- err
					}
				}(i)
			}
			wg.Wait()
			close(errs)

			for err := range errs {
				t.Errorf("Persist: %v", err)
			}
			if got := alerts.count(); got != 1 {
				t.Fatalf("inserted = %d rows for one (wallet, market) pair, want 1", got)
			}
		})
	}
}

func TestNotificationFailureDoesNotUnwindWrite(t *testing.T) {
	alerts := &fakeAlertStore{}
	notifier := &fakeNotifier{accept: false}
	w := newWriter(alerts, nil, notifier)

	ok, err := w.Persist(context.Background(), testAlert(model.ClassHighConfidence, 90))
	if err != nil || !ok {
		t.Fatalf("Persist = (%v, %v), want persisted despite send failure", ok, err)
	}
	if len(alerts.inserted) != 1 {
		t.Errorf("inserted = %d rows", len(alerts.inserted))
	}
	if len(alerts.notified) != 0 {
		t.Errorf("marked notified = %v after failed dispatch", alerts.notified)
	}
}
