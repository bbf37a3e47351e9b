package manager

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/oetiker/auto-ssl/pkg/common"
)

// RetryPolicy bounds a retry loop
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultVerifyPolicy is used when a Verifier has no policy set
var DefaultVerifyPolicy = RetryPolicy{Attempts: DefaultVerifyAttempts, Delay: DefaultVerifyDelay}

// Retry calls fn until it succeeds, the attempts are used up or ctx is
// done. It returns the number of attempts made and the last error.
// Wrap an error with backoff.Permanent to stop early.
func Retry(ctx context.Context, policy RetryPolicy, fn func(attempt int) error) (int, error) {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(policy.Delay)
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)

	made := 0
	err := backoff.Retry(func() error {
		made++
		return fn(made)
	}, b)
	return made, err
}

// VerificationResult reports whether the served certificate matched
type VerificationResult struct {
	Matched  bool
	Attempts int
}

var errCertificateMismatch = errors.New("served certificate does not match the deployed one")

// Verifier checks that a host serves the certificate just deployed
type Verifier struct {
	Prober Prober
	Policy RetryPolicy
	Logger common.LoggerInterface
}

// Verify probes domain until it serves the leaf of expectedChain. A
// mismatch after all attempts is reported in the result, never as error.
func (v *Verifier) Verify(ctx context.Context, domain string, expectedChain []byte) VerificationResult {
	policy := v.Policy
	if policy.Attempts == 0 {
		policy = DefaultVerifyPolicy
	}

	log := v.Logger.With("cn", domain)
	expected := firstCertificateDER(expectedChain)
	if expected == nil {
		log.Warnf("Deployed chain for %s contains no certificate, skipping verification", domain)
		return VerificationResult{}
	}

	attempts, err := Retry(ctx, policy, func(attempt int) error {
		result, err := v.Prober.Probe(ctx, domain)
		if err != nil {
			log.Debugf("Verification attempt %d for %s failed: %v", attempt, domain, err)
			return err
		}
		if !bytes.Equal(firstCertificateDER(result.CertificatePEM), expected) {
			log.Debugf("Verification attempt %d for %s: old certificate still served", attempt, domain)
			return errCertificateMismatch
		}
		return nil
	})
	return VerificationResult{Matched: err == nil, Attempts: attempts}
}
