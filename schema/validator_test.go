package payloadschema

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidateJobSubmission_Valid(t *testing.T) {
	payload := json.RawMessage(`{
		"name":"menu strings",
		"source_language":"en",
		"target_language":"it",
		"provider":"deepl",
		"items":[
			{"text":"New Game","key":"menu.new_game","character_limit":20},
			{"text":"Continue"},
			{"text":"{count} coins collected"}
		],
		"options":{
			"batch_size":25,
			"max_retries":2,
			"quality_threshold":80,
			"skip_low_priority":true,
			"glossary":{"coins":"monete"}
		}
	}`)

	submission, err := ValidateJobSubmission(payload)
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}

	if submission.SourceLanguage != "en" || submission.TargetLanguage != "it" {
		t.Fatalf("expected en->it, got %q->%q", submission.SourceLanguage, submission.TargetLanguage)
	}
	if len(submission.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(submission.Items))
	}
	if submission.Items[0].Key != "menu.new_game" {
		t.Fatalf("expected item key to survive, got %q", submission.Items[0].Key)
	}
	if submission.Items[0].CharacterLimit != 20 {
		t.Fatalf("expected character_limit=20, got %d", submission.Items[0].CharacterLimit)
	}
	if submission.Options == nil || submission.Options.MaxRetries == nil || *submission.Options.MaxRetries != 2 {
		t.Fatalf("expected max_retries=2, got %+v", submission.Options)
	}
	if submission.Options.Glossary["coins"] != "monete" {
		t.Fatalf("expected glossary entry to survive, got %+v", submission.Options.Glossary)
	}
}

func TestValidateJobSubmission_MaxRetriesZeroIsExplicit(t *testing.T) {
	payload := json.RawMessage(`{
		"source_language":"en",
		"target_language":"de",
		"items":[{"text":"Quit"}],
		"options":{"max_retries":0}
	}`)

	submission, err := ValidateJobSubmission(payload)
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}
	if submission.Options.MaxRetries == nil || *submission.Options.MaxRetries != 0 {
		t.Fatalf("expected explicit max_retries=0, got %+v", submission.Options.MaxRetries)
	}
}

func TestValidateJobSubmission_MissingItems(t *testing.T) {
	payload := json.RawMessage(`{
		"source_language":"en",
		"target_language":"it"
	}`)

	_, err := ValidateJobSubmission(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for missing items")
	}
}

func TestValidateJobSubmission_EmptyItemsArray(t *testing.T) {
	payload := json.RawMessage(`{
		"source_language":"en",
		"target_language":"it",
		"items":[]
	}`)

	_, err := ValidateJobSubmission(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for empty items array")
	}
}

func TestValidateJobSubmission_WhitespaceText(t *testing.T) {
	payload := json.RawMessage(`{
		"source_language":"en",
		"target_language":"it",
		"items":[{"text":"   "}]
	}`)

	_, err := ValidateJobSubmission(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for whitespace-only text")
	}
	if !strings.Contains(err.Error(), "items[0].text must not be empty") {
		t.Fatalf("expected text semantic error, got: %v", err)
	}
}

func TestValidateJobSubmission_SameLanguages(t *testing.T) {
	payload := json.RawMessage(`{
		"source_language":"en",
		"target_language":"EN",
		"items":[{"text":"Hello"}]
	}`)

	_, err := ValidateJobSubmission(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for identical languages")
	}
	if !strings.Contains(err.Error(), "must differ") {
		t.Fatalf("expected language pair semantic error, got: %v", err)
	}
}

func TestValidateJobSubmission_UnknownField(t *testing.T) {
	payload := json.RawMessage(`{
		"source_language":"en",
		"target_language":"it",
		"items":[{"text":"Hello"}],
		"priority":"high"
	}`)

	_, err := ValidateJobSubmission(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for unknown top-level field")
	}
}

func TestValidateJobSubmission_TrailingContent(t *testing.T) {
	payload := json.RawMessage(`{
		"source_language":"en",
		"target_language":"it",
		"items":[{"text":"Hello"}]
	}{"more":true}`)

	_, err := ValidateJobSubmission(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for trailing content")
	}
}

func TestValidateJobSubmission_NegativeCharacterLimit(t *testing.T) {
	payload := json.RawMessage(`{
		"source_language":"en",
		"target_language":"it",
		"items":[{"text":"Hello","character_limit":-5}]
	}`)

	_, err := ValidateJobSubmission(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for negative character_limit")
	}
}
