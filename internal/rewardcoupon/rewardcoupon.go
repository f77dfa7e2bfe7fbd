// Package rewardcoupon builds the reward-coupon projection: a two-pass
// scan over the template→file index, first for per-round issuance rates
// and then for the coupons themselves (§4.I).
package rewardcoupon

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ledgerwarehouse/internal/decoder"
	"ledgerwarehouse/internal/logging"
	"ledgerwarehouse/internal/models"
	"ledgerwarehouse/internal/payload"
	"ledgerwarehouse/internal/store"
	"ledgerwarehouse/internal/templateindex"
)

const (
	roundFilePattern    = "OpenMiningRound"
	roundTemplateSuffix = ":OpenMiningRound"

	appCouponSuffix       = ":AppRewardCoupon"
	validatorCouponSuffix = ":ValidatorRewardCoupon"
	svCouponSuffix        = ":SvRewardCoupon"

	appCouponFilePattern       = "AppRewardCoupon"
	validatorCouponFilePattern = "ValidatorRewardCoupon"
	svCouponFilePattern        = "SvRewardCoupon"
)

// Builder owns the reward_coupons/issuance_rates tables and their two-pass
// build operation.
type Builder struct {
	store     *store.Store
	templates *templateindex.Builder
	log       *zap.SugaredLogger
}

func New(st *store.Store, templates *templateindex.Builder) *Builder {
	return &Builder{store: st, templates: templates, log: logging.For("rewardcoupon")}
}

// BuildResult summarizes one build pass.
type BuildResult struct {
	RoundsFound     int
	CouponsWritten  int
	MissingIssuance int
}

// Build runs the issuance-map pass followed by the coupon pass (§4.I).
func (b *Builder) Build(ctx context.Context) (BuildResult, error) {
	rates, err := b.buildIssuanceMap(ctx)
	if err != nil {
		return BuildResult{}, fmt.Errorf("rewardcoupon: issuance map: %w", err)
	}
	if err := b.saveIssuanceRates(ctx, rates); err != nil {
		return BuildResult{}, fmt.Errorf("rewardcoupon: save issuance rates: %w", err)
	}

	coupons, missing, err := b.buildCoupons(ctx, rates)
	if err != nil {
		return BuildResult{}, fmt.Errorf("rewardcoupon: coupons: %w", err)
	}
	if err := b.upsertCoupons(ctx, coupons); err != nil {
		return BuildResult{}, fmt.Errorf("rewardcoupon: upsert coupons: %w", err)
	}

	return BuildResult{RoundsFound: len(rates), CouponsWritten: len(coupons), MissingIssuance: missing}, nil
}

// buildIssuanceMap is pass 1: scan mining-round files for non-zero
// per-app/per-validator/per-sv issuance rates keyed by round (§4.I.1).
func (b *Builder) buildIssuanceMap(ctx context.Context) (map[int64]models.IssuanceRates, error) {
	files, err := b.templates.GetFilesForTemplate(ctx, roundFilePattern)
	if err != nil {
		return nil, err
	}

	rates := make(map[int64]models.IssuanceRates)
	for _, path := range files {
		r, err := decoder.Open(path)
		if err != nil {
			b.log.Warnw("skipping file in issuance map build", "path", path, "error", err)
			continue
		}
		for {
			rec, ok := r.Next()
			if !ok {
				break
			}
			if rec.EventType != "created" || !strings.HasSuffix(rec.TemplateID, roundTemplateSuffix) {
				continue
			}
			f, err := payload.Parse(rec.Payload)
			if err != nil {
				continue
			}
			round, ok := f.ExtractInt("round")
			if !ok {
				continue
			}
			ir := models.IssuanceRates{Round: round}
			if v, ok := f.ExtractFloat("issuancePerFeaturedAppRewardCoupon"); ok && v != 0 {
				ir.PerApp = v
			}
			if v, ok := f.ExtractFloat("issuancePerValidatorRewardCoupon"); ok && v != 0 {
				ir.PerValidator = v
			}
			if v, ok := f.ExtractFloat("issuancePerSvRewardCoupon"); ok && v != 0 {
				ir.PerSv = v
			}
			if ir.PerApp != 0 || ir.PerValidator != 0 || ir.PerSv != 0 {
				rates[round] = ir
			}
		}
		r.Close()
	}
	return rates, nil
}

func (b *Builder) saveIssuanceRates(ctx context.Context, rates map[int64]models.IssuanceRates) error {
	for _, ir := range rates {
		err := b.store.Exec(ctx, `
			INSERT INTO issuance_rates (round, per_app, per_validator, per_sv)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (round) DO UPDATE SET per_app = EXCLUDED.per_app, per_validator = EXCLUDED.per_validator, per_sv = EXCLUDED.per_sv`,
			ir.Round, ir.PerApp, ir.PerValidator, ir.PerSv)
		if err != nil {
			return err
		}
	}
	return nil
}

// couponSource pairs a coupon type with the file pattern/template suffix
// pass 2 scans for.
var couponSources = []struct {
	typ            models.CouponType
	filePattern    string
	templateSuffix string
}{
	{models.CouponTypeApp, appCouponFilePattern, appCouponSuffix},
	{models.CouponTypeValidator, validatorCouponFilePattern, validatorCouponSuffix},
	{models.CouponTypeSV, svCouponFilePattern, svCouponSuffix},
}

// beneficiaryKeyPriority is the priority order named in §4.I.2. The
// trailing fallback, round.provider, is a nested lookup handled separately
// by extractRoundProvider since it names a key inside the round object
// rather than a top-level field.
var beneficiaryKeyPriority = []string{"provider", "beneficiary", "owner"}

// extractRoundProvider implements §4.I.2's 4th beneficiary priority tier,
// round.provider: look up the round field's own raw value and pull its
// nested "provider" key, rather than treating "round" itself as a party
// field (round is a mining-round reference object, not a party).
func extractRoundProvider(f payload.Fields) string {
	raw, ok := f.Raw("round")
	if !ok {
		return ""
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return ""
	}
	v, ok := m["provider"].(string)
	if !ok {
		return ""
	}
	return v
}

// buildCoupons is pass 2: scan reward-template files and compute each
// coupon's cc_amount (§4.I.2).
func (b *Builder) buildCoupons(ctx context.Context, rates map[int64]models.IssuanceRates) ([]models.RewardCoupon, int, error) {
	var coupons []models.RewardCoupon
	missing := 0

	for _, src := range couponSources {
		files, err := b.templates.GetFilesForTemplate(ctx, src.filePattern)
		if err != nil {
			return nil, 0, err
		}
		for _, path := range files {
			r, err := decoder.Open(path)
			if err != nil {
				b.log.Warnw("skipping file in coupon build", "path", path, "error", err)
				continue
			}
			for {
				rec, ok := r.Next()
				if !ok {
					break
				}
				if rec.EventType != "created" || !strings.HasSuffix(rec.TemplateID, src.templateSuffix) {
					continue
				}
				coupon, hasIssuance := assembleCoupon(rec, src.typ, rates)
				if !hasIssuance {
					missing++
				}
				coupons = append(coupons, coupon)
			}
			r.Close()
		}
	}
	return coupons, missing, nil
}

func assembleCoupon(rec decoder.Record, typ models.CouponType, rates map[int64]models.IssuanceRates) (models.RewardCoupon, bool) {
	f, err := payload.Parse(rec.Payload)
	if err != nil {
		return models.RewardCoupon{
			EventID: rec.EventID, ContractID: rec.ContractID, TemplateID: rec.TemplateID,
			EffectiveAt: rec.EffectiveAt, CouponType: typ,
		}, false
	}

	beneficiary := ""
	for _, key := range beneficiaryKeyPriority {
		if v, ok := f.ExtractParty(key); ok && v != "" {
			beneficiary = v
			break
		}
	}
	if beneficiary == "" {
		beneficiary = extractRoundProvider(f)
	}

	weight, _ := f.ExtractFloat("weight")
	round, _ := f.ExtractInt("round")

	ccAmount, hasIssuance := computeCCAmount(f, weight, round, typ, rates)

	return models.RewardCoupon{
		EventID:         rec.EventID,
		ContractID:      rec.ContractID,
		TemplateID:      rec.TemplateID,
		EffectiveAt:     rec.EffectiveAt,
		Round:           round,
		CouponType:      typ,
		Beneficiary:     beneficiary,
		Weight:          weight,
		CCAmount:        ccAmount,
		HasIssuanceData: hasIssuance,
	}, hasIssuance
}

// computeCCAmount implements §4.I.2's priority: explicit amount field,
// else weight * issuance rate for the round, else weight with
// has_issuance_data=false.
func computeCCAmount(f payload.Fields, weight float64, round int64, typ models.CouponType, rates map[int64]models.IssuanceRates) (float64, bool) {
	if v, ok := f.ExtractFloat("amount"); ok && v != 0 {
		return v, true
	}
	if v, ok := f.ExtractFloat("initialAmount"); ok && v != 0 {
		return v, true
	}
	if ir, ok := rates[round]; ok {
		rate := rateForType(ir, typ)
		if rate != 0 {
			return weight * rate, true
		}
	}
	return weight, false
}

func rateForType(ir models.IssuanceRates, typ models.CouponType) float64 {
	switch typ {
	case models.CouponTypeApp:
		return ir.PerApp
	case models.CouponTypeValidator:
		return ir.PerValidator
	case models.CouponTypeSV:
		return ir.PerSv
	default:
		return 0
	}
}

func (b *Builder) upsertCoupons(ctx context.Context, coupons []models.RewardCoupon) error {
	for _, c := range coupons {
		err := b.store.Exec(ctx, `
			INSERT INTO reward_coupons (event_id, contract_id, template_id, effective_at, round, coupon_type, beneficiary, weight, cc_amount, has_issuance_data)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (event_id) DO UPDATE SET
				contract_id = EXCLUDED.contract_id,
				template_id = EXCLUDED.template_id,
				effective_at = EXCLUDED.effective_at,
				round = EXCLUDED.round,
				coupon_type = EXCLUDED.coupon_type,
				beneficiary = EXCLUDED.beneficiary,
				weight = EXCLUDED.weight,
				cc_amount = EXCLUDED.cc_amount,
				has_issuance_data = EXCLUDED.has_issuance_data`,
			c.EventID, c.ContractID, c.TemplateID, c.EffectiveAt, c.Round, string(c.CouponType),
			c.Beneficiary, c.Weight, c.CCAmount, c.HasIssuanceData)
		if err != nil {
			return err
		}
	}
	return nil
}
