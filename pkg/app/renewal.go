package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oetiker/auto-ssl/pkg/common"
	"github.com/oetiker/auto-ssl/pkg/manager"
)

// State is the progress of one configured entry within a run
type State int

const (
	StatePending State = iota
	StateChecking
	StateSkipped
	StateRenewing
	StateDeploying
	StateVerifying
	StateDone
	StateErrored
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateChecking:
		return "checking"
	case StateSkipped:
		return "skipped"
	case StateRenewing:
		return "renewing"
	case StateDeploying:
		return "deploying"
	case StateVerifying:
		return "verifying"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EntryOutcome is the final state of one entry. Err is set when State is
// StateErrored and names the state the entry failed in. Warning carries
// problems that did not fail the entry.
type EntryOutcome struct {
	CommonName   string
	State        State
	FailedIn     State
	Err          error
	Warning      error
	Remaining    time.Duration
	Backup       *manager.BackupRecord
	Verification *manager.VerificationResult
}

// Dependencies are the collaborators shared by all entries of a run
type Dependencies struct {
	Factory  manager.ComponentFactory
	Prober   manager.Prober
	Verifier *manager.Verifier
	Issuer   manager.Issuer
	Accounts *manager.AccountStore
	Logger   common.LoggerInterface
	Now      func() time.Time
}

// RenewalManager walks the configured entries once, renewing what is due
type RenewalManager struct {
	entries     []*manager.DomainConfig
	environment string
	deps        Dependencies
}

// NewRenewalManager creates a manager for one run over entries
func NewRenewalManager(entries []*manager.DomainConfig, environment string, deps Dependencies) *RenewalManager {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &RenewalManager{entries: entries, environment: environment, deps: deps}
}

// Run processes every entry in order. Failures stay with their entry, Run
// itself only stops early when ctx is done.
func (rm *RenewalManager) Run(ctx context.Context) []EntryOutcome {
	outcomes := make([]EntryOutcome, 0, len(rm.entries))
	for _, entry := range rm.entries {
		if common.IsContextCanceled(ctx) {
			outcomes = append(outcomes, EntryOutcome{
				CommonName: entry.CommonName,
				State:      StateErrored,
				FailedIn:   StatePending,
				Err:        common.GetContextError(ctx, "renew certificate"),
			})
			continue
		}
		outcomes = append(outcomes, rm.processEntry(common.WithDomain(ctx, entry.CommonName), entry))
	}
	rm.logSummary(outcomes)
	return outcomes
}

// processEntry drives one entry through its states
func (rm *RenewalManager) processEntry(ctx context.Context, entry *manager.DomainConfig) (outcome EntryOutcome) {
	log := rm.deps.Logger.With("cn", entry.CommonName)
	outcome = EntryOutcome{CommonName: entry.CommonName, State: StatePending}

	enter := func(state State) {
		outcome.State = state
		ctx = common.WithOperation(ctx, state.String())
	}

	fail := func(err error) EntryOutcome {
		outcome.FailedIn = outcome.State
		outcome.State = StateErrored
		outcome.Err = err
		log.Errorf("Renewing certificate for %s failed while %s: %v", entry.CommonName, outcome.FailedIn, err)
		return outcome
	}

	defer func() {
		if r := recover(); r != nil {
			outcome = fail(fmt.Errorf("panic: %v", r))
		}
	}()

	log.Infof("========== start %s ==========", entry.CommonName)
	defer log.Infof("========== end %s ==========", entry.CommonName)

	enter(StateChecking)
	probe, err := rm.deps.Prober.Probe(ctx, entry.CommonName)
	if err != nil {
		return fail(err)
	}
	due, remaining := manager.NeedsRenewal(probe, entry.ExpireTimeThreshold, rm.deps.Now())
	outcome.Remaining = remaining
	rm.warnUncoveredDomains(log, entry, probe)
	if !due {
		log.Infof("Certificate for %s is valid until %s, skipping", entry.CommonName, probe.NotAfter.Format(time.RFC3339))
		enter(StateSkipped)
		return outcome
	}
	log.Infof("Certificate for %s expires in %s, renewing", entry.CommonName, remaining.Round(time.Minute))

	enter(StateRenewing)
	components, err := entry.Target.Components(ctx, rm.deps.Factory, entry)
	if err != nil {
		return fail(err)
	}

	cred, err := rm.deps.Accounts.Load(rm.environment, entry.CommonName)
	if err != nil {
		return fail(err)
	}

	accountDir := rm.deps.Accounts.AccountDir(rm.environment, entry.CommonName)
	record, err := components.Archiver.Backup(ctx, accountDir)
	if err != nil {
		log.Warnf("Backup for %s failed, continuing: %v", entry.CommonName, err)
	} else if record != nil {
		log.Infof("Backed up %d certificate(s) to %s", len(record.Entries), record.Path)
		outcome.Backup = record
	}

	issued, err := rm.deps.Issuer.Issue(ctx, manager.IssueRequest{
		Environment: rm.environment,
		CommonName:  entry.CommonName,
		Domains:     entry.Domains,
		Credential:  cred,
		Provisioner: components.Provisioner,
	})
	if err != nil {
		return fail(err)
	}
	log.Infof("Obtained certificate for %s", entry.CommonName)

	updated := *cred
	updated.AccountURL = issued.AccountURL
	if err := rm.deps.Accounts.Save(rm.environment, entry.CommonName, &updated); err != nil {
		return fail(err)
	}
	if err := rm.deps.Accounts.SaveBundle(rm.environment, entry.CommonName, &issued.Bundle); err != nil {
		return fail(err)
	}

	enter(StateDeploying)
	if err := components.Deployer.Deploy(ctx, entry.Domains, issued.Bundle.CertificateChain, issued.Bundle.PrivateKey); err != nil {
		return fail(err)
	}

	enter(StateVerifying)
	result := rm.deps.Verifier.Verify(ctx, entry.CommonName, issued.Bundle.CertificateChain)
	outcome.Verification = &result
	if !result.Matched {
		outcome.Warning = common.NewVerificationError(entry.CommonName, result.Attempts)
		log.Warnf("%s still serves a different certificate after %d attempts, it may take a while to propagate",
			entry.CommonName, result.Attempts)
	} else {
		log.Infof("Verified new certificate on %s", entry.CommonName)
	}

	enter(StateDone)
	return outcome
}

// warnUncoveredDomains reports configured domains the served certificate
// lacks. They are picked up at the next renewal.
func (rm *RenewalManager) warnUncoveredDomains(log common.LoggerInterface, entry *manager.DomainConfig, probe *manager.ProbeResult) {
	cert, err := manager.ParseCertificatePEM(probe.CertificatePEM)
	if err != nil {
		log.Debugf("Cannot parse served certificate of %s: %v", entry.CommonName, err)
		return
	}
	if missing := manager.MissingDomains(cert, entry.Domains); len(missing) > 0 {
		log.Warnf("Served certificate of %s does not cover %v", entry.CommonName, missing)
	}
}

func (rm *RenewalManager) logSummary(outcomes []EntryOutcome) {
	parts := make([]string, len(outcomes))
	failed := 0
	for i, o := range outcomes {
		parts[i] = fmt.Sprintf("%s=%s", o.CommonName, o.State)
		if o.State == StateErrored {
			failed++
		}
	}
	if failed > 0 {
		rm.deps.Logger.Importantf("Run finished, %d of the entries failed: %s", failed, strings.Join(parts, ", "))
		return
	}
	rm.deps.Logger.Infof("Run finished: %s", strings.Join(parts, ", "))
}
