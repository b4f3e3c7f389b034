// Package loader parses declarative deal specs into immutable typed
// DealDefinitions, enforcing syntactic and cross-reference integrity.
package loader

import (
	"fmt"

	"github.com/halewood/strata/internal/common"
	"github.com/halewood/strata/internal/interfaces"
	"github.com/halewood/strata/internal/models"
)

// Compile-time interface check
var _ interfaces.DealLoader = (*Service)(nil)

// Service implements DealLoader
type Service struct {
	logger *common.Logger
}

// NewService creates a new deal loader
func NewService(logger *common.Logger) *Service {
	return &Service{logger: logger}
}

// Load hydrates a raw spec dictionary into a DealDefinition and validates
// it. The returned definition holds no references into the input map.
// Failures are *models.SchemaViolationError (malformed spec) or
// *models.LogicIntegrityError (unresolved references, all listed).
func (s *Service) Load(spec map[string]any) (*models.DealDefinition, error) {
	// No external JSON schema is wired in this build; hydration performs
	// the structural checks itself.
	s.logger.Warn().Msg("No JSON schema configured; skipping syntactic validation")

	def, err := s.hydrate(spec)
	if err != nil {
		return nil, err
	}

	if err := s.validateIntegrity(def); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("deal_id", def.DealID()).
		Int("bonds", len(def.Bonds)).
		Int("funds", len(def.Funds)).
		Int("accounts", len(def.Accounts)).
		Int("tests", len(def.Tests)).
		Msg("Deal definition loaded")

	return def, nil
}

func (s *Service) hydrate(spec map[string]any) (*models.DealDefinition, error) {
	meta, ok := asMap(spec["meta"])
	if !ok {
		return nil, models.NewSchemaViolation("meta", "required mapping is missing")
	}
	if _, ok := meta["deal_id"].(string); !ok {
		return nil, models.NewSchemaViolation("meta.deal_id", "required field is missing")
	}

	waterfallsRaw, ok := asMap(spec["waterfalls"])
	if !ok {
		return nil, models.NewSchemaViolation("waterfalls", "required mapping is missing")
	}

	def := &models.DealDefinition{
		Meta:       copyMap(meta),
		Dates:      copyMapOrEmpty(spec["dates"]),
		Bonds:      make(map[string]*models.Bond),
		Funds:      make(map[string]*models.Fund),
		Accounts:   make(map[string]*models.Account),
		Waterfalls: make(map[string]*models.Waterfall),
	}

	if err := s.hydrateBonds(spec["bonds"], def); err != nil {
		return nil, err
	}
	if err := s.hydrateFunds(spec["funds"], def); err != nil {
		return nil, err
	}
	if err := s.hydrateAccounts(spec["accounts"], def); err != nil {
		return nil, err
	}
	def.Variables = orderVariables(asStringMap(spec["variables"]))
	if err := s.hydrateTests(spec["tests"], def); err != nil {
		return nil, err
	}
	if err := s.hydrateWaterfalls(waterfallsRaw, def); err != nil {
		return nil, err
	}
	if err := s.hydrateOptions(spec["options"], def); err != nil {
		return nil, err
	}

	collateral, ok := asMap(spec["collateral"])
	if !ok {
		collateral = map[string]any{}
	}
	def.Collateral = NormalizeCollateral(collateral)

	return def, nil
}

func (s *Service) hydrateBonds(raw any, def *models.DealDefinition) error {
	for i, item := range asSlice(raw) {
		path := fmt.Sprintf("bonds[%d]", i)
		bm, ok := asMap(item)
		if !ok {
			return models.NewSchemaViolation(path, "bond must be a mapping")
		}

		id, ok := bm["id"].(string)
		if !ok || id == "" {
			return models.NewSchemaViolation(path+".id", "required field is missing")
		}
		original, ok := floatField(bm, "original_balance")
		if !ok {
			return models.NewSchemaViolation(path+".original_balance", "required field is missing")
		}

		coupon, _ := asMap(bm["coupon"])
		kindStr, ok := coupon["kind"].(string)
		if !ok {
			return models.NewSchemaViolation(path+".coupon.kind", "required field is missing")
		}
		kind, err := models.ParseCouponType(kindStr)
		if err != nil {
			return models.NewSchemaViolation(path+".coupon.kind", "%v", err)
		}

		priority, _ := asMap(bm["priority"])
		interestPri, ok := intField(priority, "interest")
		if !ok {
			return models.NewSchemaViolation(path+".priority.interest", "required field is missing")
		}
		principalPri, ok := intField(priority, "principal")
		if !ok {
			return models.NewSchemaViolation(path+".priority.principal", "required field is missing")
		}

		bond := &models.Bond{
			ID:                id,
			OriginalBalance:   original,
			Coupon:            kind,
			InterestPriority:  interestPri,
			PrincipalPriority: principalPri,
		}
		if t, ok := bm["type"].(string); ok {
			bond.Type = t
		}
		if rate, ok := floatField(coupon, "fixed_rate"); ok {
			bond.FixedRate = rate
		}
		if ref, ok := coupon["variable_cap_ref"].(string); ok {
			bond.VariableCapRef = ref
		}
		if rules, ok := asMap(bm["interest_rules"]); ok {
			bond.InterestRules = copyMap(rules)
		}

		def.Bonds[id] = bond
		def.BondOrder = append(def.BondOrder, id)
	}
	return nil
}

func (s *Service) hydrateFunds(raw any, def *models.DealDefinition) error {
	for i, item := range asSlice(raw) {
		fm, ok := asMap(item)
		if !ok {
			return models.NewSchemaViolation(fmt.Sprintf("funds[%d]", i), "fund must be a mapping")
		}
		id, ok := fm["id"].(string)
		if !ok || id == "" {
			return models.NewSchemaViolation(fmt.Sprintf("funds[%d].id", i), "required field is missing")
		}
		fund := &models.Fund{ID: id}
		if desc, ok := fm["description"].(string); ok {
			fund.Description = desc
		}
		def.Funds[id] = fund
	}
	return nil
}

func (s *Service) hydrateAccounts(raw any, def *models.DealDefinition) error {
	for i, item := range asSlice(raw) {
		am, ok := asMap(item)
		if !ok {
			return models.NewSchemaViolation(fmt.Sprintf("accounts[%d]", i), "account must be a mapping")
		}
		id, ok := am["id"].(string)
		if !ok || id == "" {
			return models.NewSchemaViolation(fmt.Sprintf("accounts[%d].id", i), "required field is missing")
		}
		account := &models.Account{ID: id}
		if t, ok := am["type"].(string); ok {
			account.Type = t
		}
		def.Accounts[id] = account
	}
	return nil
}

func (s *Service) hydrateTests(raw any, def *models.DealDefinition) error {
	for i, item := range asSlice(raw) {
		path := fmt.Sprintf("tests[%d]", i)
		tm, ok := asMap(item)
		if !ok {
			return models.NewSchemaViolation(path, "test must be a mapping")
		}
		id, ok := tm["id"].(string)
		if !ok || id == "" {
			return models.NewSchemaViolation(path+".id", "required field is missing")
		}

		calc, _ := asMap(tm["calc"])
		threshold, _ := asMap(tm["threshold"])

		passIfStr, ok := tm["pass_if"].(string)
		if !ok {
			return models.NewSchemaViolation(path+".pass_if", "required field is missing")
		}
		passIf, err := models.ParsePassIf(passIfStr)
		if err != nil {
			return models.NewSchemaViolation(path+".pass_if", "%v", err)
		}

		test := models.TestSpec{
			ID:     id,
			PassIf: passIf,
		}
		if rule, ok := calc["value_rule"].(string); ok {
			test.ValueRule = rule
		}
		if rule, ok := threshold["rule"].(string); ok {
			test.ThresholdRule = rule
		}
		for _, effRaw := range asSlice(tm["effects"]) {
			if em, ok := asMap(effRaw); ok {
				if flag, ok := em["set_flag"].(string); ok && flag != "" {
					test.Effects = append(test.Effects, models.TestEffect{SetFlag: flag})
				}
			}
		}

		def.Tests = append(def.Tests, test)
	}
	return nil
}

func (s *Service) hydrateWaterfalls(raw map[string]any, def *models.DealDefinition) error {
	for name, wfRaw := range raw {
		if name == "loss_allocation" {
			lossAlloc, _ := asMap(wfRaw)
			for _, idRaw := range asSlice(lossAlloc["write_down_order"]) {
				if id, ok := idRaw.(string); ok {
					def.WriteDownOrder = append(def.WriteDownOrder, id)
				}
			}
			continue
		}

		wfMap, ok := asMap(wfRaw)
		if !ok {
			return models.NewSchemaViolation("waterfalls."+name, "waterfall must be a mapping")
		}

		wf := &models.Waterfall{}
		for i, stepRaw := range asSlice(wfMap["steps"]) {
			path := fmt.Sprintf("waterfalls.%s.steps[%d]", name, i)
			sm, ok := asMap(stepRaw)
			if !ok {
				return models.NewSchemaViolation(path, "step must be a mapping")
			}

			actionStr, ok := sm["action"].(string)
			if !ok {
				return models.NewSchemaViolation(path+".action", "required field is missing")
			}
			action, err := models.ParseStepAction(actionStr)
			if err != nil {
				return models.NewSchemaViolation(path+".action", "%v", err)
			}

			step := models.WaterfallStep{
				Action:    action,
				Condition: "true",
			}
			if id, ok := sm["id"].(string); ok {
				step.ID = id
			}
			if from, ok := sm["from_fund"].(string); ok {
				step.FromFund = from
			}
			if to, ok := sm["to"].(string); ok {
				step.To = to
			}
			if group, ok := sm["group"].(string); ok {
				step.Group = group
			}
			if cond, ok := sm["condition"].(string); ok && cond != "" {
				step.Condition = cond
			}
			if amount, ok := sm["amount_rule"].(string); ok {
				step.AmountRule = amount
			} else if f, ok := floatField(sm, "amount_rule"); ok {
				step.AmountRule = fmt.Sprintf("%g", f)
			}
			if ledger, ok := sm["unpaid_ledger_id"].(string); ok {
				step.UnpaidLedgerID = ledger
			}

			wf.Steps = append(wf.Steps, step)
		}

		def.Waterfalls[name] = wf
	}
	return nil
}

func (s *Service) hydrateOptions(raw any, def *models.DealDefinition) error {
	opts, ok := asMap(raw)
	if !ok {
		return nil
	}
	cc, ok := asMap(opts["cleanup_call"])
	if !ok {
		return nil
	}

	call := &models.CleanupCall{}
	if enabled, ok := cc["enabled"].(bool); ok {
		call.Enabled = enabled
	}
	if rule, ok := cc["threshold_rule"].(string); ok {
		call.ThresholdRule = rule
	}
	def.Options.CleanupCall = call
	return nil
}

// --- coercion helpers for JSON-decoded values ---

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyMapOrEmpty(v any) map[string]any {
	if m, ok := asMap(v); ok {
		return copyMap(m)
	}
	return map[string]any{}
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asStringMap(v any) map[string]string {
	out := map[string]string{}
	if m, ok := asMap(v); ok {
		for k, raw := range m {
			if s, ok := raw.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}

func floatField(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	return models.CoerceFloat(v)
}

func intField(m map[string]any, key string) (int, bool) {
	f, ok := floatField(m, key)
	if !ok {
		return 0, false
	}
	return int(f), true
}
