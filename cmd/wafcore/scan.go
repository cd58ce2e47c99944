package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/klyr/wafcore/internal/engine"
	"github.com/klyr/wafcore/internal/field"
	"github.com/klyr/wafcore/internal/logging"
	"github.com/klyr/wafcore/internal/rules"
)

type scanInput struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type scanOutput struct {
	Field      string               `json:"field"`
	Match      bool                 `json:"match"`
	Tier       string               `json:"tier,omitempty"`
	Generation uint64               `json:"generation"`
	Signature  *rules.SignatureInfo `json:"signature,omitempty"`
	Error      string               `json:"error,omitempty"`
}

func newScanCmd() *cobra.Command {
	var (
		configPath string
		fieldName  string
		value      string
		inputPath  string
		level      string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan field values against the configured rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" && fieldName == "" {
				return errors.New("either --field/--value or --in is required")
			}
			cfg, err := loadConfig(configPath, false)
			if err != nil {
				return err
			}
			if level != "" {
				cfg.Engine.RiskLevel = level
			}

			logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			e, err := buildEngine(cfg, logger, nil)
			if err != nil {
				return err
			}
			defer func() { _ = e.Shutdown() }()

			out := json.NewEncoder(cmd.OutOrStdout())
			if inputPath == "" {
				return out.Encode(scanOne(e, fieldName, value))
			}

			in, closeIn, err := openInput(inputPath)
			if err != nil {
				return err
			}
			defer func() { _ = closeIn() }()
			return scanLines(e, in, out, logger)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&fieldName, "field", "", "Field kind of --value (e.g. url, query_arg_val)")
	cmd.Flags().StringVar(&value, "value", "", "Raw field value to scan")
	cmd.Flags().StringVar(&inputPath, "in", "", "JSON lines of {\"field\",\"value\"}; - reads stdin")
	cmd.Flags().StringVar(&level, "level", "", "Override engine.riskLevel")

	return cmd
}

func scanOne(e *engine.Engine, fieldName, value string) scanOutput {
	out := scanOutput{Field: fieldName}
	kind, err := field.ParseKind(fieldName)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	v, err := e.Inspect(kind, []byte(value))
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Generation = v.Generation
	if v.Info != nil {
		out.Match = true
		out.Tier = v.Tier.String()
		out.Signature = v.Info
	}
	return out
}

func scanLines(e *engine.Engine, in io.Reader, out *json.Encoder, logger *zap.Logger) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var input scanInput
		if err := json.Unmarshal([]byte(line), &input); err != nil {
			logger.Warn("skipping invalid input line", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		if err := out.Encode(scanOne(e, input.Field, input.Value)); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

func openInput(path string) (io.Reader, func() error, error) {
	if path == "-" {
		return os.Stdin, func() error { return nil }, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return file, file.Close, nil
}
