package pipeline

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecocredit.org/internal/action"
	"ecocredit.org/internal/evidence"
	"ecocredit.org/internal/ledger"
	"ecocredit.org/internal/obs"
	"ecocredit.org/internal/registry"
	"ecocredit.org/internal/stream"
	"ecocredit.org/internal/verify"
)

type fakeOCR struct {
	text  string
	delay time.Duration
}

func (f fakeOCR) ExtractText(ctx context.Context, _ []byte) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, nil
}

type fixture struct {
	pipeline *Pipeline
	actions  *action.InMemory
	ledger   *ledger.InMemory
	registry *registry.InMemory
	events   *stream.Stream
}

func newFixture(t *testing.T, ocr verify.TextExtractor, store evidence.Store, cfg Config) fixture {
	t.Helper()
	reg := registry.NewInMemory()
	l := ledger.NewInMemory()
	actions := action.NewInMemory(reg, l)
	d := verify.NewDefaultDispatcher(ocr, nil)
	events := stream.New()
	return fixture{
		pipeline: New(d, actions, store, events, cfg),
		actions:  actions,
		ledger:   l,
		registry: reg,
		events:   events,
	}
}

func pendingCount(t *testing.T, s action.Store) int {
	t.Helper()
	n := 0
	for _, err := range s.Pending(context.Background()) {
		require.NoError(t, err)
		n++
	}
	return n
}

func ptr[T any](v T) *T { return &v }

func TestTransportSubmissionClaimsBill(t *testing.T) {
	f := newFixture(t, fakeOCR{text: "Bill No: 12345\nBus ticket $4.50"}, nil, Config{})
	ctx := context.Background()

	out, err := f.pipeline.Submit(ctx, Submission{
		AccountID: "u1",
		Category:  action.CategoryTransport,
		Evidence:  []byte("receipt"),
	})
	require.NoError(t, err)
	assert.Equal(t, action.StatusPending, out.Action.Status)
	assert.Equal(t, "12345", out.Action.Fingerprint)
	assert.True(t, out.Action.CO2Saved.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, "$4.50", out.Verification.Signals.Amount)
	assert.Equal(t, "bus", out.Verification.Signals.TransportType)

	_, err = f.registry.Claim(ctx, "12345")
	assert.ErrorIs(t, err, registry.ErrAlreadyClaimed, "fingerprint must be claimed")

	// same bill again
	_, err = f.pipeline.Submit(ctx, Submission{
		AccountID: "u2",
		Category:  action.CategoryTransport,
		Evidence:  []byte("another photo of the same receipt"),
	})
	assert.ErrorIs(t, err, ErrDuplicateEvidence)
	assert.ErrorIs(t, err, registry.ErrAlreadyClaimed)
	assert.Equal(t, 1, pendingCount(t, f.actions))
}

func TestTransportWithoutBillNumberSkipsDedup(t *testing.T) {
	f := newFixture(t, fakeOCR{text: "metro ride"}, nil, Config{})
	for i := 0; i < 2; i++ {
		out, err := f.pipeline.Submit(context.Background(), Submission{
			AccountID: "u1", Category: action.CategoryTransport, Evidence: []byte("x"),
		})
		require.NoError(t, err)
		assert.Empty(t, out.Action.Fingerprint)
	}
	assert.Equal(t, 2, pendingCount(t, f.actions))
}

func TestEnergyZeroPersistsNothing(t *testing.T) {
	f := newFixture(t, nil, nil, Config{})
	ctx := context.Background()

	_, err := f.pipeline.Submit(ctx, Submission{AccountID: "u1", Category: action.CategoryEnergy, EnergySaved: ptr(0.0)})
	require.Error(t, err)
	assert.ErrorIs(t, err, verify.ErrVerificationFailed)
	var vf *verify.Failure
	require.ErrorAs(t, err, &vf)
	assert.Equal(t, action.CategoryEnergy, vf.Category)

	assert.Equal(t, 0, pendingCount(t, f.actions))
	_, err = f.ledger.GetAccount(ctx, "u1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestValidationErrors(t *testing.T) {
	f := newFixture(t, fakeOCR{}, nil, Config{})
	cases := []struct {
		name  string
		s     Submission
		field string
	}{
		{"missing account", Submission{Category: action.CategoryEnergy, EnergySaved: ptr(1.0)}, "accountId"},
		{"unknown category", Submission{AccountID: "u1", Category: "flying"}, "category"},
		{"bad evidence ref", Submission{AccountID: "u1", Category: action.CategoryEnergy, EnergySaved: ptr(1.0), EvidenceRef: "not a url"}, "evidenceRef"},
		{"receipt missing", Submission{AccountID: "u1", Category: action.CategoryTransport}, "evidence"},
		{"photo missing", Submission{AccountID: "u1", Category: action.CategoryRecycling}, "evidence"},
		{"energy missing", Submission{AccountID: "u1", Category: action.CategoryEnergy}, "energySaved"},
		{"location missing", Submission{AccountID: "u1", Category: action.CategoryGeoTracking}, "geoLocation"},
		{"location empty", Submission{AccountID: "u1", Category: action.CategoryGeoTracking, Location: &action.GeoPoint{}}, "latitude"},
		{"longitude missing", Submission{AccountID: "u1", Category: action.CategoryGeoTracking, Location: &action.GeoPoint{Latitude: ptr(51.5)}}, "longitude"},
		{"latitude out of range", Submission{AccountID: "u1", Category: action.CategoryGeoTracking, Location: action.NewGeoPoint(91, 0)}, "latitude"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.pipeline.Submit(context.Background(), tc.s)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
	assert.Equal(t, 0, pendingCount(t, f.actions))
}

func TestBillNumberOnFollowingLineIsDeduplicated(t *testing.T) {
	f := newFixture(t, fakeOCR{text: "CITY BUS\nBill No:\n12345\n$4.50"}, nil, Config{})
	sub := Submission{AccountID: "u1", Category: action.CategoryTransport, Evidence: []byte("receipt")}

	out, err := f.pipeline.Submit(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, "12345", out.Action.Fingerprint)

	_, err = f.pipeline.Submit(context.Background(), sub)
	assert.ErrorIs(t, err, ErrDuplicateEvidence)
	assert.Equal(t, 1, pendingCount(t, f.actions))
}

func TestAdapterTimeoutIsVerificationFailure(t *testing.T) {
	f := newFixture(t, fakeOCR{text: "Bill No: 1", delay: time.Second}, nil, Config{AdapterTimeout: 20 * time.Millisecond})
	_, err := f.pipeline.Submit(context.Background(), Submission{
		AccountID: "u1", Category: action.CategoryTransport, Evidence: []byte("x"),
	})
	assert.ErrorIs(t, err, verify.ErrVerificationFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, pendingCount(t, f.actions))
}

func TestAutoApproveOnlyWhenEnabled(t *testing.T) {
	ctx := context.Background()

	off := newFixture(t, nil, nil, Config{})
	out, err := off.pipeline.Submit(ctx, Submission{AccountID: "u1", Category: action.CategoryGeoTracking, Location: action.NewGeoPoint(1, 2)})
	require.NoError(t, err)
	assert.Equal(t, action.StatusPending, out.Action.Status)

	on := newFixture(t, nil, nil, Config{AutoApprove: []action.Category{action.CategoryGeoTracking}})
	out, err = on.pipeline.Submit(ctx, Submission{AccountID: "u1", Category: action.CategoryGeoTracking, Location: action.NewGeoPoint(1, 2)})
	require.NoError(t, err)
	assert.Equal(t, action.StatusApproved, out.Action.Status)
	assert.Equal(t, SystemReviewer, out.Action.ReviewedBy)

	acc, err := on.ledger.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, acc.CreditBalance.Equal(decimal.NewFromInt(4)))

	// energy is not in the list, so it waits for review
	out, err = on.pipeline.Submit(ctx, Submission{AccountID: "u1", Category: action.CategoryEnergy, EnergySaved: ptr(5.0)})
	require.NoError(t, err)
	assert.Equal(t, action.StatusPending, out.Action.Status)
}

func TestAutoApprovalAnnouncesGrant(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	f := newFixture(t, nil, nil, Config{AutoApprove: []action.Category{action.CategoryGeoTracking}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed := f.events.Subscribe(ctx, "u1")

	out, err := f.pipeline.Submit(ctx, Submission{AccountID: "u1", Category: action.CategoryGeoTracking, Location: action.NewGeoPoint(1, 2)})
	require.NoError(t, err)
	require.Equal(t, action.StatusApproved, out.Action.Status)

	var types []string
	for len(types) < 3 {
		select {
		case evt := <-feed:
			types = append(types, evt.Type)
			if evt.Type == stream.EventCreditGranted {
				require.NotNil(t, evt.Amount)
				assert.True(t, evt.Amount.Equal(decimal.NewFromInt(4)))
			}
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", types)
		}
	}
	assert.Equal(t, []string{stream.EventActionSubmitted, stream.EventActionDecided, stream.EventCreditGranted}, types)
	assert.Contains(t, buf.String(), `"event":"action.decided"`)
}

func TestEvidenceIsStored(t *testing.T) {
	store, err := evidence.NewFileStore(t.TempDir(), "/evidence")
	require.NoError(t, err)
	f := newFixture(t, fakeOCR{text: "Bill No: 777"}, store, Config{})

	out, err := f.pipeline.Submit(context.Background(), Submission{
		AccountID: "u1", Category: action.CategoryTransport, Evidence: []byte("receipt-bytes"),
	})
	require.NoError(t, err)
	obj, _ := evidence.Describe([]byte("receipt-bytes"))
	assert.Equal(t, "/evidence/"+obj.Key, out.Action.EvidenceRef)
}

func TestFailedVerificationDoesNotClaim(t *testing.T) {
	f := newFixture(t, nil, nil, Config{})
	_, err := f.pipeline.Submit(context.Background(), Submission{
		AccountID: "u1", Category: action.CategoryTransport, Evidence: []byte("x"),
	})
	// no OCR configured: adapter failure
	assert.True(t, errors.Is(err, verify.ErrAdapterUnavailable))
	assert.Equal(t, 0, pendingCount(t, f.actions))
}
