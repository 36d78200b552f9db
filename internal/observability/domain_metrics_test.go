package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveQuery(t *testing.T) {
	ok := queryRequestsTotal.WithLabelValues("ok")
	beforeOK := testutil.ToFloat64(ok)
	beforeTruncated := testutil.ToFloat64(queryTruncatedTotal)

	ObserveQuery(12*time.Millisecond, true)
	ObserveQuery(3*time.Millisecond, false)

	if got := testutil.ToFloat64(ok) - beforeOK; got != 2 {
		t.Fatalf("ok queries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(queryTruncatedTotal) - beforeTruncated; got != 1 {
		t.Fatalf("truncated = %v, want 1", got)
	}
}

func TestObserveRelationBuild(t *testing.T) {
	failed := relationBuildsTotal.WithLabelValues("arrow_merge", "error")
	before := testutil.ToFloat64(failed)
	ObserveRelationBuild("arrow_merge", errors.New("boom"))
	if got := testutil.ToFloat64(failed) - before; got != 1 {
		t.Fatalf("failed builds = %v, want 1", got)
	}
}

func TestObserveDatasetCacheAndMirror(t *testing.T) {
	hits := datasetCacheTotal.WithLabelValues("hit")
	before := testutil.ToFloat64(hits)
	ObserveDatasetCache(true)
	if got := testutil.ToFloat64(hits) - before; got != 1 {
		t.Fatalf("cache hits = %v, want 1", got)
	}

	beforeBytes := testutil.ToFloat64(mirrorBytesTotal)
	ObserveMirrorObject("downloaded", 128)
	ObserveMirrorObject("skipped", 0)
	if got := testutil.ToFloat64(mirrorBytesTotal) - beforeBytes; got != 128 {
		t.Fatalf("mirror bytes = %v, want 128", got)
	}
}

func TestSetPoolIdleClampsNegative(t *testing.T) {
	SetPoolIdle(-3)
	if got := testutil.ToFloat64(poolIdleConnections); got != 0 {
		t.Fatalf("idle = %v, want 0", got)
	}
	SetPoolIdle(4)
	if got := testutil.ToFloat64(poolIdleConnections); got != 4 {
		t.Fatalf("idle = %v, want 4", got)
	}
}

func TestPoolCloseCountersAreSeparate(t *testing.T) {
	beforeDiscard := testutil.ToFloat64(poolDiscardTotal)
	beforeSurplus := testutil.ToFloat64(poolSurplusCloseTotal)
	IncrementPoolSurplusClose()
	IncrementPoolSurplusClose()
	IncrementPoolDiscard()
	if got := testutil.ToFloat64(poolSurplusCloseTotal) - beforeSurplus; got != 2 {
		t.Fatalf("surplus closes = %v", got)
	}
	if got := testutil.ToFloat64(poolDiscardTotal) - beforeDiscard; got != 1 {
		t.Fatalf("discards = %v", got)
	}
}
