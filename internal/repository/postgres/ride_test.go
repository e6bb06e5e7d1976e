package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"splitride/internal/domain"
	"splitride/internal/repository"
)

// scriptedConnector hands out connections that answer the versioned update
// and its existence check from fixed values, recording what was sent.
type scriptedConnector struct {
	mu           sync.Mutex
	rowsAffected int64
	exists       bool
	execErr      error
	execArgs     [][]driver.Value
	queries      []string
}

func (c *scriptedConnector) Connect(context.Context) (driver.Conn, error) {
	return &scriptedConn{c: c}, nil
}

func (c *scriptedConnector) Driver() driver.Driver { return scriptedDriver{} }

type scriptedDriver struct{}

func (scriptedDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("open through the connector")
}

type scriptedConn struct{ c *scriptedConnector }

func (s *scriptedConn) Prepare(query string) (driver.Stmt, error) {
	return &scriptedStmt{c: s.c, query: query}, nil
}

func (s *scriptedConn) Close() error { return nil }

func (s *scriptedConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

type scriptedStmt struct {
	c     *scriptedConnector
	query string
}

func (s *scriptedStmt) Close() error  { return nil }
func (s *scriptedStmt) NumInput() int { return -1 }

func (s *scriptedStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.queries = append(s.c.queries, strings.TrimSpace(s.query))
	s.c.execArgs = append(s.c.execArgs, args)
	if s.c.execErr != nil {
		return nil, s.c.execErr
	}
	return driver.RowsAffected(s.c.rowsAffected), nil
}

func (s *scriptedStmt) Query(args []driver.Value) (driver.Rows, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.queries = append(s.c.queries, strings.TrimSpace(s.query))
	return &existsRows{value: s.c.exists}, nil
}

type existsRows struct {
	value bool
	done  bool
}

func (r *existsRows) Columns() []string { return []string{"exists"} }
func (r *existsRows) Close() error      { return nil }

func (r *existsRows) Next(dest []driver.Value) error {
	if r.done {
		return io.EOF
	}
	r.done = true
	dest[0] = r.value
	return nil
}

func newScriptedRepo(t *testing.T, c *scriptedConnector) *RideRepository {
	t.Helper()
	db := sql.OpenDB(c)
	t.Cleanup(func() { db.Close() })
	return NewRideRepository(db)
}

func storedRide(version int64) *domain.Ride {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &domain.Ride{
		ID:        "ride-1",
		Status:    domain.RideStatusOngoing,
		Driver:    &domain.UserRef{ID: "d1", Name: "Driver"},
		CreatedAt: now,
		UpdatedAt: now,
		Version:   version,
	}
}

func TestRideRepository_UpdateChecksVersion(t *testing.T) {
	t.Parallel()

	c := &scriptedConnector{rowsAffected: 1}
	repo := newScriptedRepo(t, c)
	ride := storedRide(4)

	if err := repo.Update(context.Background(), ride); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ride.Version != 5 {
		t.Fatalf("expected version 5 after save, got %d", ride.Version)
	}

	if len(c.execArgs) != 1 {
		t.Fatalf("expected one UPDATE, got %d", len(c.execArgs))
	}
	if !strings.HasPrefix(c.queries[0], "UPDATE rides") {
		t.Fatalf("unexpected statement %q", c.queries[0])
	}
	args := c.execArgs[0]
	if len(args) != 7 {
		t.Fatalf("expected 7 arguments, got %d", len(args))
	}
	if args[3] != int64(5) || args[6] != int64(4) {
		t.Fatalf("expected SET version=5 WHERE version=4, got %v and %v", args[3], args[6])
	}
	if args[1] != "d1" || args[5] != "ride-1" {
		t.Fatalf("unexpected driver or id arguments: %v %v", args[1], args[5])
	}
	if len(c.queries) != 1 {
		t.Fatalf("a matching version needs no existence check, ran %v", c.queries)
	}
}

func TestRideRepository_UpdateStaleVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		exists bool
		want   error
	}{
		{name: "row changed underneath", exists: true, want: repository.ErrConflict},
		{name: "row missing", exists: false, want: repository.ErrNotFound},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := &scriptedConnector{rowsAffected: 0, exists: tt.exists}
			repo := newScriptedRepo(t, c)
			ride := storedRide(2)

			err := repo.Update(context.Background(), ride)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if ride.Version != 2 {
				t.Fatalf("expected version restored to 2, got %d", ride.Version)
			}
			if len(c.queries) != 2 || !strings.HasPrefix(c.queries[1], "SELECT EXISTS") {
				t.Fatalf("expected an existence check after the UPDATE, ran %v", c.queries)
			}
		})
	}
}

func TestRideRepository_UpdateExecErrorRestoresVersion(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	repo := newScriptedRepo(t, &scriptedConnector{execErr: boom})
	ride := storedRide(7)

	if err := repo.Update(context.Background(), ride); !errors.Is(err, boom) {
		t.Fatalf("expected exec error, got %v", err)
	}
	if ride.Version != 7 {
		t.Fatalf("expected version restored to 7, got %d", ride.Version)
	}
}
