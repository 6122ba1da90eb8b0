package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/opflow/internal/compiler"
)

// LoadMode controls how errors are handled during program loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the program definitions loaded from a path.
type LoadResult struct {
	Definitions []*compiler.Definition
	CUEValue    cue.Value // The raw CUE value for additional processing
	FileCount   int       // Number of CUE files found
}

// Lookup returns the definition called name, or the only definition when
// name is empty.
func (r *LoadResult) Lookup(name string) (*compiler.Definition, error) {
	if name == "" {
		if len(r.Definitions) != 1 {
			return nil, &LoadError{Code: ErrCodeAmbiguous,
				Message: fmt.Sprintf("%d programs defined; select one with --program", len(r.Definitions))}
		}
		return r.Definitions[0], nil
	}
	for _, def := range r.Definitions {
		if def.Name == name {
			return def, nil
		}
	}
	return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("program %q not found", name)}
}

// LoadError represents an error that occurred during program loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadPrograms loads the program definitions under the top-level
// "program" struct of a CUE file or of the CUE package in a directory.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadPrograms(path string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("programs path not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing programs path: %v", err)}}
	}

	var (
		value     cue.Value
		fileCount int
	)
	if info.IsDir() {
		value, fileCount, err = buildDir(path)
	} else {
		value, fileCount, err = buildFile(path)
	}
	if err != nil {
		return nil, []error{err}
	}

	result := &LoadResult{CUEValue: value, FileCount: fileCount}

	progs := value.LookupPath(cue.ParsePath("program"))
	if !progs.Exists() {
		return result, []error{&LoadError{Code: ErrCodeNoPrograms, Message: "no program definitions found"}}
	}
	iter, err := progs.Fields()
	if err != nil {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating programs: %v", err)}}
	}

	var errs []error
	for iter.Next() {
		def, loadErr := compiler.LoadProgram(iter.Value())
		if loadErr != nil {
			errs = append(errs, convertCompileError(loadErr, "program."+iter.Selector().String()))
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		result.Definitions = append(result.Definitions, def)
	}

	if len(result.Definitions) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoPrograms, Message: "no program definitions found"})
	}
	return result, errs
}

func buildDir(dir string) (cue.Value, int, error) {
	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return value, len(cueFiles), nil
}

func buildFile(path string) (cue.Value, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}
	value := cuecontext.New().CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return value, 1, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		msg := compileErr.Message
		if compileErr.Field != "" {
			msg = compileErr.Field + ": " + msg
		}
		return &LoadError{
			Code:    MapCompileErrorCode(compileErr.Code),
			Message: msg,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path or program not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeNoPrograms  = "E008" // No program definitions
	ErrCodeAmbiguous   = "E009" // Several programs and none selected
	ErrCodeInputs      = "E010" // Invalid run configuration or inputs
	ErrCodeDatabase    = "E011" // Database open or query failed
	ErrCodeExecution   = "E012" // Program execution failed
	ErrCodeTestFailed  = "E013" // One or more scenarios failed
	ErrCodeDivergent   = "E014" // A replay diverged from its schedule

	// Program definition and compilation errors
	ErrCodeSchema       = "E101" // Malformed program definition
	ErrCodeCUE          = "E102" // Error reported by the CUE evaluator
	ErrCodeFluxOrder    = "E110" // Fluxes cannot be batched in any order
	ErrCodeFluxOperator = "E111" // Flux bound as an operator
	ErrCodeAggregation  = "E112" // Aggregation produced an unorderable assignment
	ErrCodeInstruction  = "E113" // Instruction could not be built
)

// MapCompileErrorCode maps a compiler error code to a CLI error code.
func MapCompileErrorCode(code string) string {
	switch code {
	case compiler.ErrCodeSchema:
		return ErrCodeSchema
	case compiler.ErrCodeCUE:
		return ErrCodeCUE
	case compiler.ErrCodeFluxOrder:
		return ErrCodeFluxOrder
	case compiler.ErrCodeFluxOperator:
		return ErrCodeFluxOperator
	case compiler.ErrCodeImpossibleAggregation:
		return ErrCodeAggregation
	case compiler.ErrCodeInstruction:
		return ErrCodeInstruction
	default:
		return ErrCodeGeneric
	}
}
