package models

import "testing"

func TestAddToBucket(t *testing.T) {
	tb := &TokenBalance{SubscriptionToken: 100}

	if !tb.AddToBucket(BucketSubscription, 50) {
		t.Fatal("credit rejected")
	}
	if tb.SubscriptionToken != 150 {
		t.Fatalf("subscription bucket: got %d, want 150", tb.SubscriptionToken)
	}
	if tb.AddToBucket(BucketSubscription, -200) {
		t.Fatal("underflow accepted")
	}
	if tb.SubscriptionToken != 150 {
		t.Fatalf("failed delta mutated the bucket: %d", tb.SubscriptionToken)
	}
	if tb.AddToBucket("bonus_token", 10) {
		t.Fatal("unknown bucket accepted")
	}
}

func TestTotalSumsAllBuckets(t *testing.T) {
	tb := &TokenBalance{RegistrationToken: 1, FreeToken: 2, SubscriptionToken: 3, AddonsToken: 4}
	if tb.Total() != 10 {
		t.Fatalf("total: got %d, want 10", tb.Total())
	}
}

func TestPlanCycleDays(t *testing.T) {
	monthly := &Plan{Interval: PlanIntervalMonthly}
	yearly := &Plan{Interval: PlanIntervalYearly}
	if monthly.CycleDays() != 30 || yearly.CycleDays() != 365 {
		t.Fatalf("cycle days: %d/%d", monthly.CycleDays(), yearly.CycleDays())
	}
}

func TestPlanIsFreeTier(t *testing.T) {
	free := &Plan{Name: " free ", PriceCents: 0}
	paid := &Plan{Name: "Free", PriceCents: 100}
	other := &Plan{Name: "Starter", PriceCents: 0}
	if !free.IsFreeTier() {
		t.Fatal("zero-price Free plan not recognized")
	}
	if paid.IsFreeTier() || other.IsFreeTier() {
		t.Fatal("non-free plan classified as free tier")
	}
}
