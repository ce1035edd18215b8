package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/voxlogica/voxengine/internal/ast"
	"github.com/voxlogica/voxengine/internal/config"
	"github.com/voxlogica/voxengine/internal/engine"
)

func configureLogger(logLevel string, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if dev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to built-in defaults)")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	noCache := flag.Bool("no-cache", false, "run this program against a discarded in-memory store")
	listNamespaces := flag.Bool("list-namespaces", false, "print every registered namespace's operators and exit")
	concurrency := flag.Int("concurrency", 0, "override the configured worker pool size")
	scenario := flag.String("scenario", "arithmetic", "demo program to run: arithmetic, for-loop, or img")
	flag.Parse()

	var cfg *config.Config
	if strings.TrimSpace(*configPath) != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "config", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	logger := configureLogger(cfg.Engine.LogLevel, *dev)
	slog.SetDefault(logger)

	ctx := context.Background()
	eng, err := engine.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open engine", "error", err)
		os.Exit(1)
	}
	defer eng.Close()

	if *listNamespaces {
		for name, ops := range eng.Describe() {
			for _, op := range ops {
				logger.Info("namespace operator", "namespace", name, "operator", op.Name, "description", op.Description)
			}
		}
		return
	}

	prog, err := demoProgram(*scenario)
	if err != nil {
		logger.Error("unknown scenario", "scenario", *scenario, "error", err)
		os.Exit(1)
	}

	result, err := eng.Execute(ctx, prog, os.Stdout, engine.Options{
		Concurrency: *concurrency,
		NoCache:     *noCache,
	})
	if err != nil {
		logger.Error("execution failed", "error", err)
		os.Exit(1)
	}
	if !result.Success() {
		for _, g := range result.Goals {
			if g.Err != nil {
				logger.Error("goal failed", "label", g.Label, "error", g.Err)
			}
		}
		os.Exit(1)
	}
}

// demoProgram builds one of spec.md §8's end-to-end scenarios directly as an
// AST, since this engine consumes a pre-parsed AST and is not responsible
// for surface-syntax parsing (spec.md §6.1).
func demoProgram(scenario string) (ast.Program, error) {
	switch scenario {
	case "arithmetic":
		return ast.Program{Commands: []ast.Command{
			ast.LetConst{Name: "a", Value: ast.Literal{Value: float64(3)}},
			ast.LetConst{Name: "b", Value: ast.Literal{Value: float64(4)}},
			ast.LetFunc{Name: "hypotenuseSquared", Params: []string{"x", "y"}, Body: ast.Application{
				Function: "add", Args: []ast.Expr{
					ast.Application{Function: "mul", Args: []ast.Expr{ast.Variable{Name: "x"}, ast.Variable{Name: "x"}}},
					ast.Application{Function: "mul", Args: []ast.Expr{ast.Variable{Name: "y"}, ast.Variable{Name: "y"}}},
				},
			}},
			ast.LetConst{Name: "result", Value: ast.Application{
				Function: "hypotenuseSquared", Args: []ast.Expr{ast.Variable{Name: "a"}, ast.Variable{Name: "b"}},
			}},
			ast.GoalStmt{Kind: ast.GoalPrint, Label: "hypotenuse_squared", Value: ast.Variable{Name: "result"}},
		}}, nil

	case "for-loop":
		return ast.Program{Commands: []ast.Command{
			ast.LetConst{Name: "squares", Value: ast.ForLoop{
				Var:    "i",
				Source: ast.Application{Function: "range", Args: []ast.Expr{ast.Literal{Value: float64(0)}, ast.Literal{Value: float64(6)}}},
				Body:   ast.Application{Function: "mul", Args: []ast.Expr{ast.Variable{Name: "i"}, ast.Variable{Name: "i"}}},
			}},
			ast.GoalStmt{Kind: ast.GoalPrint, Label: "squares", Value: ast.Variable{Name: "squares"}},
		}}, nil

	case "img":
		return ast.Program{Commands: []ast.Command{
			ast.Import{Namespace: "img"},
			ast.LetConst{Name: "scan", Value: ast.Application{Function: "read", Args: []ast.Expr{
				ast.Literal{Value: "scan.nii.gz"},
			}}},
			ast.LetConst{Name: "mask", Value: ast.Application{Function: "threshold", Args: []ast.Expr{
				ast.Variable{Name: "scan"}, ast.Literal{Value: float64(0.5)},
			}}},
			ast.GoalStmt{Kind: ast.GoalSave, Label: "mask.nii.gz", Value: ast.Variable{Name: "mask"}},
		}}, nil

	default:
		return ast.Program{}, fmt.Errorf("unknown scenario %q", scenario)
	}
}
