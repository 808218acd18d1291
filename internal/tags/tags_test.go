package tags

import "testing"

const sample = `Итог разговора.
[ТИПЗВОНКА:ЦЕЛЕВОЙ]
[РЕЗУЛЬТАТ: ПЕРЕВОД]
[ПЕРЕВОД:СТАНЦИЯ=9301]
[ПЕРЕВОД: УСЛОВИЯ = ЧАС]
Свободный текст после тегов.`

func TestExtract(t *testing.T) {
	got := Extract(sample)
	if len(got) != 4 {
		t.Fatalf("expected 4 tags, got %d: %v", len(got), got)
	}
	if got[0].Key != "ТИПЗВОНКА" || got[0].Value != "ЦЕЛЕВОЙ" {
		t.Fatalf("unexpected first tag: %+v", got[0])
	}
}

func TestHasToleratesSpacing(t *testing.T) {
	if !Has(sample, "РЕЗУЛЬТАТ", "ПЕРЕВОД") {
		t.Fatalf("expected to find result tag despite internal space")
	}
	if Has(sample, "РЕЗУЛЬТАТ", "ПЕРЕЗВОНИТЬ") {
		t.Fatalf("must not match a different value")
	}
}

func TestHasCaseInsensitive(t *testing.T) {
	if !Has("[перевод:перевод]", "ПЕРЕВОД", "ПЕРЕВОД") {
		t.Fatalf("expected case-insensitive match")
	}
}

func TestSubValue(t *testing.T) {
	station, ok := SubValue(sample, "ПЕРЕВОД", "СТАНЦИЯ")
	if !ok || station != "9301" {
		t.Fatalf("station = %q ok=%v", station, ok)
	}
	cond, ok := SubValue(sample, "ПЕРЕВОД", "УСЛОВИЯ")
	if !ok || cond != "ЧАС" {
		t.Fatalf("conditions = %q ok=%v", cond, ok)
	}
	if _, ok := SubValue(sample, "ПЕРЕВОД", "КОГДА"); ok {
		t.Fatalf("missing sub key must not match")
	}
}

func TestSubValueSkipsOtherKeys(t *testing.T) {
	text := "[ПЕРЕЗВОНИТЬ:СВЯЗАЛИСЬ][ПЕРЕЗВОНИТЬ:КОГДА=завтра утром]"
	when, ok := SubValue(text, "ПЕРЕЗВОНИТЬ", "КОГДА")
	if !ok || when != "завтра утром" {
		t.Fatalf("when = %q ok=%v", when, ok)
	}
}

func TestValue(t *testing.T) {
	v, ok := Value(sample, "ТИПЗВОНКА")
	if !ok || v != "ЦЕЛЕВОЙ" {
		t.Fatalf("value = %q ok=%v", v, ok)
	}
	if _, ok := Value("no tags here", "ТИПЗВОНКА"); ok {
		t.Fatalf("expected no match in plain text")
	}
}
