package store_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"chatroom/pkg/model"
	"chatroom/pkg/store"
)

func newTestSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("store_test: failed to open db: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			fmt.Printf("Error closing database: %v\n", err)
		}
	})

	return s
}

// implementations returns every Store implementation under test.
func implementations(t *testing.T) map[string]store.Store {
	t.Helper()
	return map[string]store.Store{
		"sqlite": newTestSQLite(t),
		"memory": store.NewMemory(),
	}
}

func TestCreateUser(t *testing.T) {
	type tcase struct {
		username  string
		expectErr bool
	}

	tcases := map[string]tcase{
		"simple_username": {
			username:  "johndoe",
			expectErr: false,
		},
		"injection_username": { // SQL injection contains invalid chars (quotes, spaces, equals)
			username:  "' OR '1'='1",
			expectErr: true,
		},
		"empty_username": {
			username:  "",
			expectErr: true,
		},
		"too_long_username": { // 33 characters exceeds the limit
			username:  "a123456789012345678901234567890123",
			expectErr: true,
		},
		"reserved_username": {
			username:  model.SystemSender,
			expectErr: true,
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			for impl, s := range implementations(t) {
				err := s.CreateUser(tc.username, "secret")
				if tc.expectErr {
					if err == nil {
						t.Errorf("%s: expected error, got nil", impl)
					}
					continue
				}
				if err != nil {
					t.Errorf("%s: unexpected error: %v", impl, err)
				}
			}
		})
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	for impl, s := range implementations(t) {
		if err := s.CreateUser("alice", "secret"); err != nil {
			t.Fatalf("%s: CreateUser: %v", impl, err)
		}
		err := s.CreateUser("alice", "other")
		if !errors.Is(err, store.ErrUserExists) {
			t.Errorf("%s: duplicate CreateUser = %v, want ErrUserExists", impl, err)
		}
	}
}

func TestVerifyUser(t *testing.T) {
	for impl, s := range implementations(t) {
		if err := s.CreateUser("alice", "secret"); err != nil {
			t.Fatalf("%s: CreateUser: %v", impl, err)
		}

		ok, err := s.VerifyUser("alice", "secret")
		if err != nil {
			t.Fatalf("%s: VerifyUser: %v", impl, err)
		}
		if !ok {
			t.Errorf("%s: correct credentials rejected", impl)
		}

		ok, err = s.VerifyUser("alice", "wrong")
		if err != nil {
			t.Fatalf("%s: VerifyUser: %v", impl, err)
		}
		if ok {
			t.Errorf("%s: wrong password accepted", impl)
		}

		ok, err = s.VerifyUser("nobody", "secret")
		if err != nil {
			t.Fatalf("%s: VerifyUser: %v", impl, err)
		}
		if ok {
			t.Errorf("%s: unknown user accepted", impl)
		}
	}
}

func TestUserExists(t *testing.T) {
	for impl, s := range implementations(t) {
		if err := s.CreateUser("alice", "secret"); err != nil {
			t.Fatalf("%s: CreateUser: %v", impl, err)
		}

		ok, err := s.UserExists("alice")
		if err != nil {
			t.Fatalf("%s: UserExists: %v", impl, err)
		}
		if !ok {
			t.Errorf("%s: existing user reported missing", impl)
		}

		ok, err = s.UserExists("bob")
		if err != nil {
			t.Fatalf("%s: UserExists: %v", impl, err)
		}
		if ok {
			t.Errorf("%s: missing user reported present", impl)
		}
	}
}

func TestMessageHistory(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for impl, s := range implementations(t) {
		for i := 0; i < 5; i++ {
			body := fmt.Sprintf("message %d", i)
			if err := s.SaveMessage("alice", body, base.Add(time.Duration(i)*time.Second)); err != nil {
				t.Fatalf("%s: SaveMessage: %v", impl, err)
			}
		}

		got, err := s.RecentMessages(3)
		if err != nil {
			t.Fatalf("%s: RecentMessages: %v", impl, err)
		}

		want := []model.StoredMessage{
			{Sender: "alice", Body: "message 2", SentAt: base.Add(2 * time.Second)},
			{Sender: "alice", Body: "message 3", SentAt: base.Add(3 * time.Second)},
			{Sender: "alice", Body: "message 4", SentAt: base.Add(4 * time.Second)},
		}
		if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(model.StoredMessage{}, "ID")); diff != "" {
			t.Errorf("%s: RecentMessages mismatch (-want +got):\n%s", impl, diff)
		}
	}
}

func TestRecentMessagesEmpty(t *testing.T) {
	for impl, s := range implementations(t) {
		got, err := s.RecentMessages(20)
		if err != nil {
			t.Fatalf("%s: RecentMessages: %v", impl, err)
		}
		if len(got) != 0 {
			t.Errorf("%s: expected no messages, got %d", impl, len(got))
		}
	}
}

func TestMemoryStoreUnavailable(t *testing.T) {
	s := store.NewMemory()
	s.SetUnavailable(true)

	if _, err := s.VerifyUser("alice", "secret"); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("VerifyUser while down = %v, want ErrUnavailable", err)
	}
	if err := s.CreateUser("alice", "secret"); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("CreateUser while down = %v, want ErrUnavailable", err)
	}

	s.SetUnavailable(false)
	if err := s.CreateUser("alice", "secret"); err != nil {
		t.Errorf("CreateUser after recovery: %v", err)
	}
}
