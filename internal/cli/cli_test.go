package cli

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ecocredit.org/internal/action"
	"ecocredit.org/internal/app"
	"ecocredit.org/internal/auth"
	"ecocredit.org/internal/config"
	"ecocredit.org/internal/pipeline"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := config.Load(context.Background(), "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Evidence.Backend = "none"
	a, err := app.Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func run(t *testing.T, a *app.App, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd(WithApp(a))
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func submitEnergy(t *testing.T, a *app.App, account string) action.Action {
	t.Helper()
	saved := 5.0
	out, err := a.Pipeline.Submit(context.Background(), pipeline.Submission{
		AccountID:   account,
		Category:    action.CategoryEnergy,
		EnergySaved: &saved,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return out.Action
}

func TestActionsPendingAndReview(t *testing.T) {
	a := newTestApp(t)
	act := submitEnergy(t, a, "u-1")

	out, err := run(t, a, "actions", "pending")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if !strings.Contains(out, act.ID) || !strings.Contains(out, "energy") {
		t.Fatalf("pending output missing action:\n%s", out)
	}

	out, err = run(t, a, "actions", "review", act.ID, "--approve")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	var decided action.Action
	if err := json.Unmarshal([]byte(out), &decided); err != nil {
		t.Fatalf("decode review output %q: %v", out, err)
	}
	if decided.Status != action.StatusApproved || decided.ReviewedBy != "admin@carbon.com" {
		t.Fatalf("unexpected decision: %+v", decided)
	}

	if _, err := run(t, a, "actions", "review", act.ID, "--reject"); err == nil {
		t.Fatalf("expected second review to fail")
	}
}

func TestActionsReviewRequiresAdminIdentity(t *testing.T) {
	a := newTestApp(t)
	act := submitEnergy(t, a, "u-1")

	_, err := run(t, a, "actions", "review", act.ID, "--approve", "--as", "someone@example.com")
	if err == nil || !strings.Contains(err.Error(), auth.ErrForbidden.Error()) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestActionsReviewFlagValidation(t *testing.T) {
	a := newTestApp(t)
	if _, err := run(t, a, "actions", "review", "act_x"); err == nil {
		t.Fatalf("expected error without --approve/--reject")
	}
	if _, err := run(t, a, "actions", "review", "act_x", "--approve", "--reject"); err == nil {
		t.Fatalf("expected error with both flags")
	}
}

func TestBillsExport(t *testing.T) {
	a := newTestApp(t)
	for _, fp := range []string{"INV-2", "INV-1"} {
		if _, err := a.Registry.Claim(context.Background(), fp); err != nil {
			t.Fatalf("claim %s: %v", fp, err)
		}
	}

	path := filepath.Join(t.TempDir(), "bills.csv")
	if _, err := run(t, a, "bills", "export", "--out", path); err != nil {
		t.Fatalf("export: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 || rows[1][0] != "INV-2" || rows[2][0] != "INV-1" {
		t.Fatalf("unexpected rows: %v", rows)
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("ECOCREDIT_AUTH_SECRET", "cli-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)
	a := newTestApp(t)

	out, err := run(t, a, "token", "--user", "u-5", "--roles", "user,admin")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	claims, err := auth.ParseAndValidate(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	p := claims.Principal()
	if p.UserID != "u-5" || !p.HasRole(auth.RoleAdmin) {
		t.Fatalf("unexpected principal: %+v", p)
	}

	if _, err := run(t, a, "token"); err == nil {
		t.Fatalf("expected error without --user")
	}
}

func TestMigrateNeedsPostgres(t *testing.T) {
	a := newTestApp(t)
	_, err := run(t, a, "migrate", "up")
	if err == nil || !strings.Contains(err.Error(), "postgres") {
		t.Fatalf("expected postgres error, got %v", err)
	}
	if _, err := run(t, a, "migrate", "sideways"); err == nil {
		t.Fatalf("expected invalid argument error")
	}
}
