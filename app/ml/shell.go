package ml

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/go-pkgz/lgr"
	"gopkg.in/yaml.v3"

	"github.com/umputun/arbor/app/errs"
	"github.com/umputun/arbor/app/task"
)

// ShellRunner trains and applies models with external commands. Every command runs in its own
// temporary directory with inputs written as files, placeholders in command are replaced by file paths.
//
// Train placeholders: {config_file} (yaml), {data_file} (csv), {model_file}.
// Predict placeholders: {config_file}, {model_file}, {historic_file}, {future_file}, {output_file} (csv).
// config.json with the same config is written next to config.yaml.
//
// Model file is read back as JSON, non-JSON content is kept as a trimmed string.
type ShellRunner struct {
	TrainCommand   string
	PredictCommand string
	MaxLines       int       // output lines kept for logs
	LogWriter      io.Writer // optional, gets commands output prefixed
}

// Validate checks both commands are set
func (r *ShellRunner) Validate() error {
	if strings.TrimSpace(r.TrainCommand) == "" || strings.TrimSpace(r.PredictCommand) == "" {
		return fmt.Errorf("shell runner needs train and predict commands: %w", errs.ErrConfiguration)
	}
	return nil
}

// Train runs train command and loads the model it writes
func (r *ShellRunner) Train(ctx context.Context, config map[string]any, data Frame) (any, error) {
	dir, err := os.MkdirTemp("", "arbor_ml_train_")
	if err != nil {
		return nil, fmt.Errorf("can't make working dir: %w", err)
	}
	defer r.cleanup(dir)

	configFile, err := writeConfig(dir, config)
	if err != nil {
		return nil, err
	}
	dataFile := filepath.Join(dir, "data.csv")
	if err = writeFrame(dataFile, &data); err != nil {
		return nil, err
	}
	modelFile := filepath.Join(dir, "model.json")

	cmd := strings.NewReplacer("{config_file}", configFile, "{data_file}", dataFile, "{model_file}", modelFile).
		Replace(r.TrainCommand)
	if err = r.exec(ctx, dir, "ml-train", cmd); err != nil {
		return nil, fmt.Errorf("training command: %w", err)
	}

	raw, err := os.ReadFile(modelFile) // nolint gosec
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("training command did not create model file %s", modelFile)
	}
	if err != nil {
		return nil, fmt.Errorf("can't read model file: %w", err)
	}
	return decodeModel(raw), nil
}

// Predict writes model and frames to files, runs predict command and loads predictions csv
func (r *ShellRunner) Predict(ctx context.Context, config map[string]any, model any, historic *Frame, future Frame) (Frame, error) {
	dir, err := os.MkdirTemp("", "arbor_ml_predict_")
	if err != nil {
		return Frame{}, fmt.Errorf("can't make working dir: %w", err)
	}
	defer r.cleanup(dir)

	configFile, err := writeConfig(dir, config)
	if err != nil {
		return Frame{}, err
	}
	modelFile := filepath.Join(dir, "model.json")
	modelData, err := json.Marshal(model)
	if err != nil {
		return Frame{}, fmt.Errorf("can't marshal model %T: %w", model, err)
	}
	if err = os.WriteFile(modelFile, modelData, 0o600); err != nil {
		return Frame{}, fmt.Errorf("can't write model file: %w", err)
	}
	historicFile, futureFile := filepath.Join(dir, "historic.csv"), filepath.Join(dir, "future.csv")
	if err = writeFrame(historicFile, historic); err != nil {
		return Frame{}, err
	}
	if err = writeFrame(futureFile, &future); err != nil {
		return Frame{}, err
	}
	outputFile := filepath.Join(dir, "predictions.csv")

	cmd := strings.NewReplacer("{config_file}", configFile, "{model_file}", modelFile, "{historic_file}", historicFile,
		"{future_file}", futureFile, "{output_file}", outputFile).Replace(r.PredictCommand)
	if err = r.exec(ctx, dir, "ml-predict", cmd); err != nil {
		return Frame{}, fmt.Errorf("prediction command: %w", err)
	}

	res, err := readFrame(outputFile)
	if errors.Is(err, fs.ErrNotExist) {
		return Frame{}, fmt.Errorf("prediction command did not create output file %s", outputFile)
	}
	return res, err
}

func (r *ShellRunner) exec(ctx context.Context, dir, name, command string) error {
	log.Printf("[DEBUG] executing %s command %q in %s", name, command, dir)
	executor := &task.ShellExecutor{MaxLines: r.MaxLines, LogWriter: r.LogWriter, Dir: dir}
	out, err := executor.Execute(ctx, name, command)
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		if out.Tail != "" {
			log.Printf("[WARN] %s failed, last lines, %d dropped:\n%s", name, out.TailDropped, out.Tail)
		}
		return fmt.Errorf("failed with exit code %d: %s", out.ExitCode, out.Stderr)
	}
	return nil
}

func (r *ShellRunner) cleanup(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		log.Printf("[WARN] can't remove working dir %s, %v", dir, err)
	}
}

// writeConfig writes config as config.yaml and config.json, returns path of yaml file
func writeConfig(dir string, config map[string]any) (string, error) {
	if config == nil {
		config = map[string]any{}
	}
	yml, err := yaml.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("can't marshal config to yaml: %w", err)
	}
	js, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return "", fmt.Errorf("can't marshal config to json: %w", err)
	}
	res := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(res, yml, 0o600); err != nil {
		return "", fmt.Errorf("can't write config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), js, 0o600); err != nil {
		return "", fmt.Errorf("can't write config: %w", err)
	}
	return res, nil
}

// writeFrame writes frame as csv with header, nil frame makes an empty file
func writeFrame(path string, f *Frame) error {
	buf := bytes.Buffer{}
	if f != nil {
		w := csv.NewWriter(&buf)
		if err := w.Write(f.Columns); err != nil {
			return fmt.Errorf("can't write header of %s: %w", filepath.Base(path), err)
		}
		for i, row := range f.Data {
			rec := make([]string, len(row))
			for j, v := range row {
				rec[j] = cell(v)
			}
			if err := w.Write(rec); err != nil {
				return fmt.Errorf("can't write row %d of %s: %w", i, filepath.Base(path), err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return fmt.Errorf("can't write %s: %w", filepath.Base(path), err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("can't write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readFrame reads csv with header, numeric cells become float64, empty cells nil
func readFrame(path string) (Frame, error) {
	fh, err := os.Open(path) // nolint gosec
	if err != nil {
		return Frame{}, err
	}
	defer fh.Close() // nolint errcheck

	records, err := csv.NewReader(fh).ReadAll()
	if err != nil {
		return Frame{}, fmt.Errorf("can't parse %s: %w", filepath.Base(path), err)
	}
	if len(records) == 0 {
		return Frame{}, fmt.Errorf("%s has no header", filepath.Base(path))
	}
	res := Frame{Columns: records[0], Data: make([][]any, 0, len(records)-1)}
	for _, rec := range records[1:] {
		row := make([]any, len(rec))
		for i, s := range rec {
			row[i] = parseCell(s)
		}
		res.Data = append(res.Data, row)
	}
	return res, nil
}

func cell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

func parseCell(s string) any {
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func decodeModel(raw []byte) any {
	raw = bytes.TrimSpace(raw)
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	return string(raw)
}
