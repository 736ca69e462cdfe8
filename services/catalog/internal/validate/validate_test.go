package validate

import (
	"regexp"
	"testing"
)

func TestRequiredAndLength(t *testing.T) {
	errs := Errors{}
	errs.Required("name", "   ")
	errs.Length("title", "ab", 3, 10)
	errs.Length("ok", "hello", 3, 10)
	if len(errs["name"]) != 1 || len(errs["title"]) != 1 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if _, ok := errs["ok"]; ok {
		t.Fatalf("valid field flagged: %v", errs)
	}
}

func TestEmailAndPhone(t *testing.T) {
	errs := Errors{}
	errs.Email("email", "not-an-email")
	errs.Email("good", "user@example.com")
	errs.Phone("phone", "12ab")
	errs.Phone("intl", "+4915112345678")
	if len(errs["email"]) != 1 || len(errs["phone"]) != 1 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if !errs.Empty() == false && len(errs) != 2 {
		t.Fatalf("valid values flagged: %v", errs)
	}
}

func TestOneOf(t *testing.T) {
	errs := Errors{}
	errs.OneOf("category", "Electronics", []string{"electronics", "books"})
	errs.OneOf("bad", "toys", []string{"electronics", "books"})
	if _, ok := errs["category"]; ok {
		t.Fatalf("case-insensitive match flagged: %v", errs)
	}
	if len(errs["bad"]) != 1 {
		t.Fatalf("missing enum error: %v", errs)
	}
}

func TestClean(t *testing.T) {
	errs := Errors{}
	errs.Clean("description", "this is crap honestly")
	errs.Clean("fine", "a perfectly tame sentence")
	if len(errs["description"]) != 1 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if _, ok := errs["fine"]; ok {
		t.Fatalf("clean value flagged: %v", errs)
	}
}

func TestTags(t *testing.T) {
	errs := Errors{}
	errs.Tags("tags", []string{"go", "go", "Sports", "a-1"}, 5)
	if len(errs["tags"]) != 2 {
		t.Fatalf("expected duplicate + case errors, got %v", errs["tags"])
	}
	errs = Errors{}
	errs.Tags("tags", []string{"a", "b", "c", "d", "e", "f"}, 5)
	if len(errs["tags"]) != 1 {
		t.Fatalf("expected max error, got %v", errs["tags"])
	}
}

func TestMatchAndMerge(t *testing.T) {
	sku := regexp.MustCompile(`^[A-Z]{2,4}-\d{3,6}$`)
	errs := Errors{}
	errs.Match("sku", "ab-12", sku, "must look like AB-123")
	nested := Errors{}
	nested.Min("quantity", 0, 1)
	errs.Merge("items.0", nested)
	if len(errs["sku"]) != 1 || len(errs["items.0.quantity"]) != 1 {
		t.Fatalf("unexpected errors: %v", errs)
	}
}
