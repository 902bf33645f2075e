package migrations

import (
	"database/sql"
	"errors"
	"io"
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/lib/pq"
)

func TestVersionsInOrder(t *testing.T) {
	versions, err := Versions()
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(versions) != 2 || versions[0] != 1 || versions[1] != 2 {
		t.Fatalf("unexpected versions: %v", versions)
	}
}

func readUp(t *testing.T, version uint) string {
	t.Helper()
	src, err := Source()
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	defer src.Close()

	r, _, err := src.ReadUp(version)
	if err != nil {
		t.Fatalf("read up %d: %v", version, err)
	}
	defer r.Close()
	body, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(body)
}

// uniquePaymentColumn matches a table whose payment_id column is declared
// UNIQUE, whatever the column alignment.
func uniquePaymentColumn(table string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)CREATE\s+TABLE\s+IF\s+NOT\s+EXISTS\s+` + table +
		`\s*\([^;]*?\bpayment_id\s+UUID\s+NOT\s+NULL\s+UNIQUE\b`)
}

func TestPaymentScopedTablesAreUnique(t *testing.T) {
	cases := []struct {
		version uint
		table   string
	}{
		{1, "executions"},
		{2, "settlement_tasks"},
	}
	for _, tc := range cases {
		if !uniquePaymentColumn(tc.table).MatchString(readUp(t, tc.version)) {
			t.Fatalf("%s.payment_id must carry a unique constraint", tc.table)
		}
	}
}

func TestUniquePaymentColumnPattern(t *testing.T) {
	re := uniquePaymentColumn("executions")
	if !re.MatchString("create table if not exists executions (\n\tid UUID,\n\tpayment_id\tUUID  NOT NULL\n UNIQUE REFERENCES payments(id)\n);") {
		t.Fatalf("pattern should tolerate case and whitespace")
	}
	if re.MatchString("CREATE TABLE IF NOT EXISTS executions (\n payment_id UUID NOT NULL REFERENCES payments(id)\n);") {
		t.Fatalf("pattern matched a column without UNIQUE")
	}
}

func TestApplyReportsDriverFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT CURRENT_DATABASE()")).WillReturnError(errors.New("connection reset"))

	err = Apply(db)
	if err == nil {
		t.Fatalf("expected apply to fail")
	}
	if !strings.Contains(err.Error(), "open migration driver") {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyAgainstPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping migration integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := Apply(db); err != nil {
		t.Fatalf("apply: %v", err)
	}
	// Second run is a no-op.
	if err := Apply(db); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
}
