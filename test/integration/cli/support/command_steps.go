package support

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/trustroute/internal/testutil"
)

const commandTimeout = 30 * time.Second

// RegisterCommandSteps registers steps that run the CLI and inspect its output.
func (testCtx *TestContext) RegisterCommandSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a scan image "([^"]*)" reading "([^"]*)"$`, testCtx.aScanImageReading)
	sc.Step(`^an overconfident calibration set "([^"]*)" for domain "([^"]*)"$`, testCtx.anOverconfidentCalibrationSet)
	sc.Step(`^a file "([^"]*)" with content:$`, testCtx.aFileWithContent)
	sc.Step(`^the environment variable "([^"]*)" is set to "([^"]*)"$`, testCtx.theEnvironmentVariableIsSetTo)

	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the error output should contain "([^"]*)"$`, testCtx.theErrorOutputShouldContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the JSON should contain "([^"]*)"$`, testCtx.theJSONShouldContain)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONFieldShouldBe)
	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)
	sc.Step(`^I remember the JSON field "([^"]*)" as "([^"]*)"$`, testCtx.iRememberTheJSONField)

	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the file "([^"]*)" should contain "([^"]*)"$`, testCtx.theFileShouldContain)
	sc.Step(`^line (\d+) of "([^"]*)" should have the JSON field "([^"]*)" set to "([^"]*)"$`, testCtx.lineShouldHaveJSONField)
}

// aScanImageReading renders text into a PNG in the working directory.
func (testCtx *TestContext) aScanImageReading(filename, text string) error {
	img := testutil.CreateTestImageWithText(text, 240, 48)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return testCtx.writeFile(filename, buf.Bytes())
}

// anOverconfidentCalibrationSet writes labels whose confidences overstate accuracy.
func (testCtx *TestContext) anOverconfidentCalibrationSet(filename, domain string) error {
	set := testutil.OverconfidentSet()
	data, err := json.Marshal(map[string]any{
		"confidences": set.Confidences,
		"correctness": set.Correct,
		"domain":      domain,
	})
	if err != nil {
		return err
	}
	return testCtx.writeFile(filename, data)
}

func (testCtx *TestContext) aFileWithContent(filename string, content *godog.DocString) error {
	return testCtx.writeFile(filename, []byte(testCtx.substitute(content.Content)))
}

func (testCtx *TestContext) writeFile(filename string, data []byte) error {
	path := testCtx.path(filename)
	if err := testutil.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	testCtx.TrackFile(path)
	return nil
}

func (testCtx *TestContext) theEnvironmentVariableIsSetTo(name, value string) error {
	testCtx.AddEnvVar(name, value)
	return nil
}

// iRunCommand executes a command and stores the result. Stdout and stderr
// are kept apart because the CLI logs JSON to stderr.
func (testCtx *TestContext) iRunCommand(command string) error {
	command = testCtx.substitute(command)

	testCtx.LastCommand = command
	testCtx.LastStartTime = time.Now()

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = testCtx.WorkingDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	testCtx.LastOutput = stdout.String()
	testCtx.LastStderr = stderr.String()
	testCtx.LastError = err
	testCtx.LastDuration = time.Since(testCtx.LastStartTime)

	if err != nil {
		exitError := &exec.ExitError{}
		if errors.As(err, &exitError) {
			testCtx.LastExitCode = exitError.ExitCode()
		} else {
			testCtx.LastExitCode = -1
		}
	} else {
		testCtx.LastExitCode = 0
	}

	return nil
}

// theCommandShouldSucceed verifies the command succeeded.
func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command failed with exit code %d: %w\nOutput: %s\nStderr: %s",
			testCtx.LastExitCode, testCtx.LastError, testCtx.LastOutput, testCtx.LastStderr)
	}
	return nil
}

// theCommandShouldFail verifies the command failed.
func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("command succeeded when it should have failed\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldContain verifies stdout contains specific text.
func (testCtx *TestContext) theOutputShouldContain(expectedText string) error {
	expectedText = testCtx.substitute(expectedText)
	if !strings.Contains(testCtx.LastOutput, expectedText) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expectedText, testCtx.LastOutput)
	}
	return nil
}

// theErrorOutputShouldContain checks stderr, where status messages go.
func (testCtx *TestContext) theErrorOutputShouldContain(text string) error {
	text = testCtx.substitute(text)
	if !strings.Contains(testCtx.LastStderr, text) {
		return fmt.Errorf("stderr does not contain '%s'\nStderr: %s", text, testCtx.LastStderr)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldNotContain(text string) error {
	if strings.Contains(testCtx.LastOutput, text) {
		return fmt.Errorf("output unexpectedly contains '%s'\nActual output: %s", text, testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldBeValidJSON verifies stdout is a single JSON document.
func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	var js json.RawMessage
	if err := json.Unmarshal([]byte(testCtx.LastOutput), &js); err != nil {
		return fmt.Errorf("output is not valid JSON: %w\nOutput: %s", err, testCtx.LastOutput)
	}
	return nil
}

// theJSONShouldContain verifies the JSON output has a field at a dotted path.
func (testCtx *TestContext) theJSONShouldContain(field string) error {
	_, err := testCtx.jsonField(testCtx.LastOutput, field)
	return err
}

func (testCtx *TestContext) theJSONFieldShouldBe(field, expected string) error {
	val, err := testCtx.jsonField(testCtx.LastOutput, field)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(val); got != testCtx.substitute(expected) {
		return fmt.Errorf("field '%s' is %q, expected %q", field, got, expected)
	}
	return nil
}

// iRememberTheJSONField stores a field of the last output for ${NAME} substitution.
func (testCtx *TestContext) iRememberTheJSONField(field, name string) error {
	val, err := testCtx.jsonField(testCtx.LastOutput, field)
	if err != nil {
		return err
	}
	testCtx.Vars[name] = fmt.Sprint(val)
	return nil
}

// jsonField walks a dotted path such as "fields.0.id"; numeric parts index arrays.
func (testCtx *TestContext) jsonField(doc, field string) (any, error) {
	var current any
	if err := json.Unmarshal([]byte(doc), &current); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w\nOutput: %s", err, doc)
	}

	parts := strings.Split(field, ".")
	for i, part := range parts {
		switch node := current.(type) {
		case map[string]any:
			val, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("field '%s' not found in JSON", strings.Join(parts[:i+1], "."))
			}
			current = val
		case []any:
			var idx int
			if _, err := fmt.Sscanf(part, "%d", &idx); err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("invalid index '%s' for array of length %d", part, len(node))
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("cannot navigate into non-object field '%s'", strings.Join(parts[:i], "."))
		}
	}
	return current, nil
}

// theErrorShouldMention verifies the failure output contains specific text.
func (testCtx *TestContext) theErrorShouldMention(errorText string) error {
	if testCtx.LastError == nil && testCtx.LastExitCode == 0 {
		return fmt.Errorf("no error occurred, but expected error containing '%s'", errorText)
	}

	fullErrorText := testCtx.LastOutput + " " + testCtx.LastStderr
	if testCtx.LastError != nil {
		fullErrorText += " " + testCtx.LastError.Error()
	}

	if !strings.Contains(strings.ToLower(fullErrorText), strings.ToLower(errorText)) {
		return fmt.Errorf("error does not contain '%s'\nActual error: %s", errorText, fullErrorText)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldExist(filename string) error {
	if !testutil.FileExists(testCtx.path(filename)) {
		return fmt.Errorf("file %s does not exist", filename)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldContain(filename, expectedContent string) error {
	data, err := os.ReadFile(testCtx.path(filename))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}
	expectedContent = testCtx.substitute(expectedContent)
	if !strings.Contains(string(data), expectedContent) {
		return fmt.Errorf("file %s does not contain '%s'\nContent: %s", filename, expectedContent, data)
	}
	return nil
}

// lineShouldHaveJSONField inspects one record of a JSON lines file.
func (testCtx *TestContext) lineShouldHaveJSONField(line int, filename, field, expected string) error {
	data, err := os.ReadFile(testCtx.path(filename))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if line < 1 || line > len(lines) {
		return fmt.Errorf("%s has %d lines, wanted line %d", filename, len(lines), line)
	}
	val, err := testCtx.jsonField(lines[line-1], field)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(val); got != testCtx.substitute(expected) {
		return fmt.Errorf("line %d field '%s' is %q, expected %q", line, field, got, expected)
	}
	return nil
}
