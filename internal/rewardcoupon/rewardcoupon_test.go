package rewardcoupon

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ledgerwarehouse/internal/decoder"
	"ledgerwarehouse/internal/store"
	"ledgerwarehouse/internal/templateindex"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warehouse.duckdb")
	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return s
}

func writeFile(t *testing.T, dir, name string, recs []decoder.Record) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := decoder.WriteBatch(f, recs); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	return path
}

func registerTemplateFile(t *testing.T, s *store.Store, path, templateName string, count int64) {
	t.Helper()
	now := time.Now().UTC()
	err := s.Exec(context.Background(), `
		INSERT INTO template_file_index (file_path, template_name, event_count, first_event_at, last_event_at)
		VALUES ($1, $2, $3, $4, $5)`, path, templateName, count, now, now)
	if err != nil {
		t.Fatalf("register template file: %v", err)
	}
}

func marshal(t *testing.T, v map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body
}

func TestBuildComputesCCAmountFromIssuanceRate(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	tb := templateindex.New(s, nil)
	dir := t.TempDir()
	ctx := context.Background()

	roundRec := decoder.Record{
		EventID:     "round-1",
		ContractID:  "contract-round-1",
		TemplateID:  "Splice.Amulet:OpenMiningRound",
		EventType:   "created",
		EffectiveAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload: marshal(t, map[string]any{
			"round":                              float64(1),
			"issuancePerFeaturedAppRewardCoupon": 2.0,
		}),
	}
	roundPath := writeFile(t, dir, "events-0001.bin", []decoder.Record{roundRec})
	registerTemplateFile(t, s, roundPath, "Splice.Amulet:OpenMiningRound", 1)

	couponRec := decoder.Record{
		EventID:     "coupon-1",
		ContractID:  "contract-coupon-1",
		TemplateID:  "Splice.Amulet:AppRewardCoupon",
		EventType:   "created",
		EffectiveAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Payload: marshal(t, map[string]any{
			"provider": "provider-1",
			"weight":   "3",
			"round":    float64(1),
		}),
	}
	couponPath := writeFile(t, dir, "events-0002.bin", []decoder.Record{couponRec})
	registerTemplateFile(t, s, couponPath, "Splice.Amulet:AppRewardCoupon", 1)

	b := New(s, tb)
	result, err := b.Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.RoundsFound != 1 {
		t.Errorf("RoundsFound = %d, want 1", result.RoundsFound)
	}
	if result.CouponsWritten != 1 {
		t.Fatalf("CouponsWritten = %d, want 1", result.CouponsWritten)
	}
	if result.MissingIssuance != 0 {
		t.Errorf("MissingIssuance = %d, want 0", result.MissingIssuance)
	}

	var ccAmount float64
	var beneficiary string
	err = s.QueryRow(ctx, "SELECT cc_amount, beneficiary FROM reward_coupons WHERE event_id = 'coupon-1'").Scan(&ccAmount, &beneficiary)
	if err != nil {
		t.Fatalf("query coupon: %v", err)
	}
	if ccAmount != 6.0 {
		t.Errorf("cc_amount = %v, want 6.0 (weight 3 * rate 2)", ccAmount)
	}
	if beneficiary != "provider-1" {
		t.Errorf("beneficiary = %q, want provider-1", beneficiary)
	}
}

func TestBuildFallsBackToWeightWithoutIssuanceData(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	tb := templateindex.New(s, nil)
	dir := t.TempDir()
	ctx := context.Background()

	couponRec := decoder.Record{
		EventID:     "coupon-2",
		ContractID:  "contract-coupon-2",
		TemplateID:  "Splice.Amulet:ValidatorRewardCoupon",
		EventType:   "created",
		EffectiveAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Payload: marshal(t, map[string]any{
			"beneficiary": "validator-1",
			"weight":      "5",
			"round":       float64(99),
		}),
	}
	couponPath := writeFile(t, dir, "events-0001.bin", []decoder.Record{couponRec})
	registerTemplateFile(t, s, couponPath, "Splice.Amulet:ValidatorRewardCoupon", 1)

	b := New(s, tb)
	result, err := b.Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.MissingIssuance != 1 {
		t.Fatalf("MissingIssuance = %d, want 1", result.MissingIssuance)
	}

	var ccAmount float64
	var hasIssuance bool
	err = s.QueryRow(ctx, "SELECT cc_amount, has_issuance_data FROM reward_coupons WHERE event_id = 'coupon-2'").Scan(&ccAmount, &hasIssuance)
	if err != nil {
		t.Fatalf("query coupon: %v", err)
	}
	if ccAmount != 5.0 {
		t.Errorf("cc_amount = %v, want 5.0 (weight fallback)", ccAmount)
	}
	if hasIssuance {
		t.Error("expected has_issuance_data=false")
	}
}

func TestBuildFallsBackToRoundProviderWhenNoOtherBeneficiary(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	tb := templateindex.New(s, nil)
	dir := t.TempDir()
	ctx := context.Background()

	couponRec := decoder.Record{
		EventID:     "coupon-3",
		ContractID:  "contract-coupon-3",
		TemplateID:  "Splice.Amulet:SvRewardCoupon",
		EventType:   "created",
		EffectiveAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Payload: marshal(t, map[string]any{
			"weight": "2",
			"round": map[string]any{
				"number":   float64(5),
				"provider": "dso-1",
			},
		}),
	}
	couponPath := writeFile(t, dir, "events-0001.bin", []decoder.Record{couponRec})
	registerTemplateFile(t, s, couponPath, "Splice.Amulet:SvRewardCoupon", 1)

	b := New(s, tb)
	if _, err := b.Build(ctx); err != nil {
		t.Fatalf("Build: %v", err)
	}

	var beneficiary string
	if err := s.QueryRow(ctx, "SELECT beneficiary FROM reward_coupons WHERE event_id = 'coupon-3'").Scan(&beneficiary); err != nil {
		t.Fatalf("query coupon: %v", err)
	}
	if beneficiary != "dso-1" {
		t.Errorf("beneficiary = %q, want dso-1 (round.provider fallback)", beneficiary)
	}
}
