package manager

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonschema"
)

// FormatValidationError converts the detailed JSON Schema validation errors
// to a more concise, user-friendly error message
func FormatValidationError(result *jsonschema.EvaluationResult) error {
	list := result.ToList()

	var errorMessages []string
	collectListErrors(list, &errorMessages)

	if len(errorMessages) == 0 {
		return fmt.Errorf("configuration does not match the schema (use -debug for details)")
	}

	sort.Strings(errorMessages)
	return fmt.Errorf("\n - %s", strings.Join(dedupe(errorMessages), "\n - "))
}

// collectListErrors walks the validation list and turns every failing
// keyword into a single line naming the offending option
func collectListErrors(list *jsonschema.List, messages *[]string) {
	location := describeLocation(list.InstanceLocation)

	for keyword, errMsg := range list.Errors {
		if errMsg == "" || keyword == "properties" || keyword == "items" {
			continue
		}
		*messages = append(*messages, friendlyMessage(location, keyword, errMsg))
	}

	for i := range list.Details {
		detail := list.Details[i]
		if detail.Valid {
			continue
		}
		collectListErrors(&detail, messages)
	}
}

func friendlyMessage(location, keyword, errMsg string) string {
	switch keyword {
	case "additionalProperties":
		if fields := extractUnknownFields(errMsg); len(fields) > 0 {
			return fmt.Sprintf("Unrecognized option(s) in %s: %s", location, strings.Join(fields, ", "))
		}
	case "required":
		return fmt.Sprintf("Missing required option(s) in %s: %s", location, errMsg)
	}
	if strings.Contains(errMsg, "No values are allowed because the schema is set to 'false'") {
		errMsg = "not a valid configuration option"
	}
	return fmt.Sprintf("Problem with %s: %s", location, errMsg)
}

// extractUnknownFields extracts field names from an additionalProperties error message
func extractUnknownFields(errMsg string) []string {
	// The format is usually: "Additional properties 'field1', 'field2' do not match the schema"
	if !strings.Contains(errMsg, "Additional properties") {
		return nil
	}

	fieldsText := strings.TrimPrefix(errMsg, "Additional properties ")
	fieldsText = strings.TrimSuffix(fieldsText, " do not match the schema")

	var fields []string
	for _, field := range strings.Split(fieldsText, ", ") {
		field = strings.Trim(field, "'")
		if field != "" {
			fields = append(fields, field)
		}
	}
	return fields
}

// describeLocation renders a JSON pointer such as /1/oss/bucket as
// "entry 1 option 'oss.bucket'"
func describeLocation(path string) string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "configuration"
	}

	segments := strings.Split(path, "/")
	entry := segments[0]
	if len(segments) == 1 {
		return fmt.Sprintf("entry %s", entry)
	}
	return fmt.Sprintf("entry %s option '%s'", entry, strings.Join(segments[1:], "."))
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i > 0 && s == sorted[i-1] {
			continue
		}
		out = append(out, s)
	}
	return out
}
