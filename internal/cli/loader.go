package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/evanharte/planwright/internal/plan"
	"github.com/evanharte/planwright/internal/worldpath"
)

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeNotFound     = "E002" // Path not found
	ErrCodeDecodeFailed = "E003" // YAML decode failed
	ErrCodeSchemaViol   = "E004" // Schema validation failed

	// Plan structural errors
	ErrCodePlanID         = "E101" // Missing plan id
	ErrCodePlanTenant     = "E102" // Missing tenant
	ErrCodeNoTransitions  = "E103" // No transitions declared
	ErrCodeTransitionID   = "E104" // Missing or duplicate transition id
	ErrCodeProcessorRef   = "E105" // Missing processor ref
	ErrCodeWriteSet       = "E106" // Empty write-set
	ErrCodeSelectorBad    = "E107" // Write-set selector failed canonicalization
	ErrCodeSnapshotRef    = "E108" // Missing registry snapshot reference
)

// LoadError represents an error that occurred while loading an input file.
type LoadError struct {
	Code    string
	Message string
	Path    string // offending file, if known
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// planFile is the on-disk YAML shape of a plan.
type planFile struct {
	Plan struct {
		ID               string           `yaml:"id"`
		Tenant           string           `yaml:"tenant"`
		RegistrySnapshot string           `yaml:"registry_snapshot"`
		Policy           string           `yaml:"policy"`
		Transitions      []transitionFile `yaml:"transitions"`
	} `yaml:"plan"`
}

type transitionFile struct {
	ID        string         `yaml:"id"`
	Processor string         `yaml:"processor"`
	Inputs    map[string]any `yaml:"inputs"`
	WriteSet  []string       `yaml:"write_set"`
}

// LoadPlan reads and structurally validates a plan file. Write-set
// selectors must canonicalize; the plan carries them as written, since
// the resolved form is computed again at lease acquisition.
func LoadPlan(path string) (*plan.Plan, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: "plan file not found", Path: path}}
		}
		return nil, []error{&LoadError{Code: ErrCodeGeneric, Message: err.Error(), Path: path}}
	}

	var pf planFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeDecodeFailed, Message: fmt.Sprintf("decoding plan: %v", err), Path: path}}
	}

	var errs []error
	if pf.Plan.ID == "" {
		errs = append(errs, &LoadError{Code: ErrCodePlanID, Message: "plan.id is required", Path: path})
	}
	if pf.Plan.Tenant == "" {
		errs = append(errs, &LoadError{Code: ErrCodePlanTenant, Message: "plan.tenant is required", Path: path})
	}
	if pf.Plan.RegistrySnapshot == "" {
		errs = append(errs, &LoadError{Code: ErrCodeSnapshotRef, Message: "plan.registry_snapshot is required", Path: path})
	}
	if len(pf.Plan.Transitions) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoTransitions, Message: "plan declares no transitions", Path: path})
	}

	p := &plan.Plan{
		ID:                 pf.Plan.ID,
		Tenant:             pf.Plan.Tenant,
		RegistrySnapshotID: pf.Plan.RegistrySnapshot,
		PolicyID:           pf.Plan.Policy,
	}

	seen := make(map[string]bool, len(pf.Plan.Transitions))
	for i, tf := range pf.Plan.Transitions {
		if tf.ID == "" {
			errs = append(errs, &LoadError{Code: ErrCodeTransitionID,
				Message: fmt.Sprintf("transitions[%d]: id is required", i), Path: path})
			continue
		}
		if seen[tf.ID] {
			errs = append(errs, &LoadError{Code: ErrCodeTransitionID,
				Message: fmt.Sprintf("duplicate transition id %q", tf.ID), Path: path})
			continue
		}
		seen[tf.ID] = true

		if tf.Processor == "" {
			errs = append(errs, &LoadError{Code: ErrCodeProcessorRef,
				Message: fmt.Sprintf("transition %q: processor is required", tf.ID), Path: path})
		}
		if len(tf.WriteSet) == 0 {
			errs = append(errs, &LoadError{Code: ErrCodeWriteSet,
				Message: fmt.Sprintf("transition %q: write_set must not be empty", tf.ID), Path: path})
		}
		for _, sel := range tf.WriteSet {
			if _, err := worldpath.CanonicalizeSelector(sel); err != nil {
				errs = append(errs, &LoadError{Code: ErrCodeSelectorBad,
					Message: fmt.Sprintf("transition %q: selector %q: %v", tf.ID, sel, err), Path: path})
			}
		}

		p.Transitions = append(p.Transitions, &plan.Transition{
			ID:           tf.ID,
			PlanID:       pf.Plan.ID,
			ProcessorRef: tf.Processor,
			Inputs:       tf.Inputs,
			WriteSet:     tf.WriteSet,
			Status:       plan.StatusPending,
		})
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return p, nil
}
