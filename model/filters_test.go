package model

import "testing"

func TestIsUnset(t *testing.T) {
	unset := []any{nil, "", "  ", "Any", "any", "ALL", "All", []string{}, []any{}}
	for _, v := range unset {
		if !IsUnset(v) {
			t.Errorf("IsUnset(%#v) = false, want true", v)
		}
	}

	set := []any{"approved", 0, 42, false, true, []string{"a"}, "anybody"}
	for _, v := range set {
		if IsUnset(v) {
			t.Errorf("IsUnset(%#v) = true, want false", v)
		}
	}
}

func TestFilterSet_Clean(t *testing.T) {
	f := FilterSet{
		"status":  "approved",
		"country": "Any",
		"email":   "",
		"active":  false,
		"tags":    []string{},
	}

	cleaned := f.Clean()
	if len(cleaned) != 2 {
		t.Fatalf("Clean() kept %d keys, want 2: %#v", len(cleaned), cleaned)
	}
	if cleaned["status"] != "approved" {
		t.Errorf("status = %v, want approved", cleaned["status"])
	}
	if cleaned["active"] != false {
		t.Errorf("active = %v, want false (boolean false is a real constraint)", cleaned["active"])
	}

	// Receiver untouched.
	if len(f) != 5 {
		t.Errorf("Clean() modified the receiver: %#v", f)
	}
}

func TestFilterSet_Merge(t *testing.T) {
	base := FilterSet{"status": "Any", "country": "DE"}
	merged := base.Merge(FilterSet{"status": "approved"})

	if merged["status"] != "approved" {
		t.Errorf("status = %v, want approved", merged["status"])
	}
	if merged["country"] != "DE" {
		t.Errorf("country = %v, want DE", merged["country"])
	}
	if base["status"] != "Any" {
		t.Error("Merge modified the receiver")
	}
}

func TestFilterSet_Equal(t *testing.T) {
	a := FilterSet{"status": "approved", "country": "Any"}
	b := FilterSet{"status": "approved"}
	if !a.Equal(b) {
		t.Error("filter sets differing only in sentinels should be equal")
	}

	c := FilterSet{"status": "rejected"}
	if a.Equal(c) {
		t.Error("different constraints should not be equal")
	}

	d := FilterSet{"tags": []string{"x", "y"}}
	e := FilterSet{"tags": []any{"x", "y"}}
	if !d.Equal(e) {
		t.Error("equivalent slice values should be equal regardless of element type")
	}
}
