package wal

import (
	"testing"
)

func TestValidIdentifier(t *testing.T) {
	valid := []string{"wirecdc_slot", "pub1", "a", "snake_case_99"}
	for _, name := range valid {
		if !validIdentifier(name) {
			t.Errorf("validIdentifier(%q) = false, want true", name)
		}
	}

	invalid := []string{"", "Slot", "with space", "quo\"te", "semi;colon", "dash-ed", "pg.dot"}
	for _, name := range invalid {
		if validIdentifier(name) {
			t.Errorf("validIdentifier(%q) = true, want false", name)
		}
	}
}

func TestPublicationDDL_AllTables(t *testing.T) {
	ddl, err := publicationDDL("wirecdc_pub", nil)
	if err != nil {
		t.Fatalf("publicationDDL: %v", err)
	}
	want := `CREATE PUBLICATION "wirecdc_pub" FOR ALL TABLES;`
	if ddl != want {
		t.Errorf("ddl = %s, want %s", ddl, want)
	}
}

func TestPublicationDDL_TableList(t *testing.T) {
	ddl, err := publicationDDL("wirecdc_pub", []string{"public.orders", "public.users"})
	if err != nil {
		t.Fatalf("publicationDDL: %v", err)
	}
	want := `CREATE PUBLICATION "wirecdc_pub" FOR TABLE "public"."orders", "public"."users";`
	if ddl != want {
		t.Errorf("ddl = %s, want %s", ddl, want)
	}
}

func TestPublicationDDL_RejectsBadTable(t *testing.T) {
	if _, err := publicationDDL("pub", []string{"noschema"}); err == nil {
		t.Error("expected error for table without schema")
	}
	if _, err := publicationDDL("pub", []string{`inj"ect.t`}); err == nil {
		t.Error("expected error for quoted injection attempt")
	}
}

func TestFilterTables_SortedAndNilForEmpty(t *testing.T) {
	if got := filterTables(nil); got != nil {
		t.Errorf("filterTables(nil) = %v, want nil", got)
	}
	got := filterTables(map[string]struct{}{
		"public.zebra": {},
		"public.apple": {},
	})
	if len(got) != 2 || got[0] != "public.apple" || got[1] != "public.zebra" {
		t.Errorf("filterTables returned %v, want sorted slice", got)
	}
}
