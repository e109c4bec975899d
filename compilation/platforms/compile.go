package platforms

import (
	"context"
	"encoding/json"
	"iter"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/crytic/vyperlens/compilation/pragma"
	"github.com/crytic/vyperlens/compilation/types"
	"github.com/crytic/vyperlens/logging"
	"github.com/crytic/vyperlens/logging/colors"
	"github.com/crytic/vyperlens/utils"
	"github.com/pkg/errors"
)

// compileWith is the compile loop shared by every range: one compiler run per settings group, in settings key
// order, with the working directory set to the project root for the duration of the run.
func compileWith(ctx context.Context, adapter Adapter, request *CompileRequest) iter.Seq2[*CompiledContract, error] {
	return func(yield func(*CompiledContract, error) bool) {
		logger := logging.GlobalLogger.NewSubLogger(logging.SERVICE_KEY, logging.COMPILATION_SERVICE)
		strategy := adapter.PCMapStrategy(request.Version)
		interfaces := adapter.Interfaces(request.Interfaces)

		for _, settingsKey := range request.Settings.Keys() {
			settings := request.Settings[settingsKey]
			if len(settings.OutputSelection) == 0 {
				continue
			}

			sources, err := adapter.Sources(request.Root, settings.OutputSelection, request.ImportMap)
			if err != nil {
				yield(nil, err)
				return
			}
			input, err := json.Marshal(&StandardInput{
				Language:   "Vyper",
				Settings:   settings,
				Sources:    sources,
				Interfaces: interfaces,
			})
			if err != nil {
				yield(nil, errors.WithStack(err))
				return
			}

			logger.Info("Compiling using Vyper compiler ", colors.Bold, pragma.FormatVersion(request.Version), colors.Reset,
				" (", settingsKey, ")\nInput:\n\t", strings.Join(settings.SourceIDs(), "\n\t"))

			var raw []byte
			err = utils.WithWorkingDirectory(request.Root, func() error {
				var runErr error
				raw, runErr = request.Runner.CompileStandard(ctx, request.Version, input, adapter.BasePath(request.Root))
				return runErr
			})
			if err != nil {
				yield(nil, err)
				return
			}

			output, err := ParseStandardOutput(raw)
			if err != nil {
				yield(nil, err)
				return
			}
			for contract, err := range contractsOf(request, strategy, settingsKey, sources, output) {
				if !yield(contract, err) || err != nil {
					return
				}
			}
		}
	}
}

// contractsOf yields an artifact for every contract in the output, ordered by source ID then contract name.
func contractsOf(request *CompileRequest, strategy PCMapStrategy, settingsKey string, sources map[string]Source, output *StandardOutput) iter.Seq2[*CompiledContract, error] {
	return func(yield func(*CompiledContract, error) bool) {
		for _, outputID := range sortedKeys(output.Contracts) {
			sourceID, ok := matchSourceID(outputID, sources)
			if !ok {
				continue
			}
			content := types.NewContent(sources[sourceID].Content)
			var rawAST json.RawMessage
			if source, ok := output.Sources[outputID]; ok && source != nil {
				rawAST = source.AST
			}

			finalID := sourceID
			if filepath.IsAbs(sourceID) {
				finalID = utils.RelativePathOrSelf(request.Root, sourceID)
			}

			contracts := output.Contracts[outputID]
			for _, name := range sortedKeys(contracts) {
				artifact, err := buildArtifact(artifactInput{
					version:     request.Version,
					strategy:    strategy,
					settingsKey: settingsKey,
					sourceID:    finalID,
					name:        name,
					content:     content,
					rawAST:      rawAST,
					output:      contracts[name],
				})
				if !yield(&CompiledContract{Artifact: artifact, Content: content}, err) || err != nil {
					return
				}
			}
		}
	}
}

// matchSourceID maps a source ID from the output back to the input. Some 0.3 releases strip the leading separator
// from absolute paths.
func matchSourceID(outputID string, sources map[string]Source) (string, bool) {
	if _, ok := sources[outputID]; ok {
		return outputID, true
	}
	if _, ok := sources["/"+outputID]; ok {
		return "/" + outputID, true
	}
	return "", false
}

// readSources loads the text of each selected source ID that exists under root.
func readSources(root string, selection map[string][]string, include func(sourceID string) bool) (map[string]Source, error) {
	sources := make(map[string]Source, len(selection))
	for sourceID := range selection {
		if include != nil && !include(sourceID) {
			continue
		}
		sourcePath := sourceID
		if !filepath.IsAbs(sourcePath) {
			sourcePath = filepath.Join(root, filepath.FromSlash(sourceID))
		}
		if !utils.FileExists(sourcePath) {
			continue
		}
		data, err := os.ReadFile(sourcePath)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		sources[sourceID] = Source{Content: string(data)}
	}
	return sources, nil
}

// inInterfacesRoot reports whether the source ID lives directly in the project's top-level interfaces directory.
func inInterfacesRoot(sourceID string) bool {
	return path.Dir(filepath.ToSlash(sourceID)) == "interfaces"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
