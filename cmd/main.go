package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/farmhand-nlp/farmhand"
	"github.com/farmhand-nlp/farmhand/backends"
	"github.com/farmhand-nlp/farmhand/processors"
	"github.com/farmhand-nlp/farmhand/util"
	"github.com/farmhand-nlp/farmhand/util/checks"
)

var tokenizerPath string
var passageTokenizerPath string
var processorType string
var inputPath string
var outputPath string
var tokenizerBackend string
var singleThreaded bool
var inference bool
var batchSize int
var maxSeqLen int
var docStride int
var numPositives int
var numHardNegatives int
var embedTitle bool
var tokenizersDir string

var featurizeCommand = &cli.Command{
	Name:  "featurize",
	Usage: "Convert raw records into fixed-shape numeric features",
	Description: `Featurize expects a path to a file with input in .jsonl format. Each json line in the file must be one raw record
				of the selected processor: a context/qas or text/questions object for squad, a query/passages object for text_similarity.
				`,
	ArgsUsage: `
				--input: path to a .jsonl file or a folder with .jsonl files to process. If omitted, the input will be read from stdin.
				--output: path to a folder where to write the output. If omitted, the output will be sent to stdout.
				--tokenizer: tokenizer name or path to a directory with a tokenizer.json. The cli looks for tokenizers with this chain: first use the provided path. If the path does not exist, look for a tokenizer
				with this name at $HOME/farmhand/tokenizers. Finally, try to download the tokenizer from Huggingface and use it.
				--processor: processor type. Currently implemented types are: squad and text_similarity.
				`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "tokenizer",
			Usage:       "Tokenizer name or path",
			Aliases:     []string{"k"},
			Destination: &tokenizerPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "passageTokenizer",
			Usage:       "Separate tokenizer for the context side of text_similarity. Falls back to --tokenizer",
			Destination: &passageTokenizerPath,
		},
		&cli.StringFlag{
			Name:        "processor",
			Usage:       "Processor type",
			Aliases:     []string{"t"},
			Destination: &processorType,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "input",
			Usage:       "Path to the input data",
			Aliases:     []string{"i"},
			Destination: &inputPath,
		},
		&cli.StringFlag{
			Name:        "output",
			Usage:       "Path to output",
			Aliases:     []string{"o"},
			Destination: &outputPath,
		},
		&cli.StringFlag{
			Name:        "tokenizerBackend",
			Usage:       "Tokenizer backend, GO or RUST",
			Destination: &tokenizerBackend,
			Value:       "GO",
		},
		&cli.BoolFlag{
			Name:        "singleThreaded",
			Usage:       "Restrict the tokenizer to one thread",
			Destination: &singleThreaded,
		},
		&cli.BoolFlag{
			Name:        "inference",
			Usage:       "Skip label construction",
			Destination: &inference,
		},
		&cli.IntFlag{
			Name:        "batchSize",
			Usage:       "Number of records to process in a batch",
			Aliases:     []string{"b"},
			Destination: &batchSize,
			Value:       20,
		},
		&cli.IntFlag{
			Name:        "maxSeqLen",
			Usage:       "Sequence budget per feature row. 0 uses the processor default",
			Destination: &maxSeqLen,
		},
		&cli.IntFlag{
			Name:        "docStride",
			Usage:       "Token stride between passage windows. 0 uses the processor default",
			Destination: &docStride,
		},
		&cli.IntFlag{
			Name:        "numPositives",
			Usage:       "Positive contexts per text_similarity row",
			Destination: &numPositives,
		},
		&cli.IntFlag{
			Name:        "numHardNegatives",
			Usage:       "Hard negative contexts per text_similarity row",
			Destination: &numHardNegatives,
		},
		&cli.BoolFlag{
			Name:        "embedTitle",
			Usage:       "Prepend passage titles in text_similarity contexts",
			Destination: &embedTitle,
			Value:       true,
		},
		&cli.StringFlag{
			Name:        "tokenizerFolder",
			Usage:       "Folder where to store downloaded tokenizers. Falls back to $HOME/farmhand/tokenizers if not specified",
			Aliases:     []string{"f"},
			Destination: &tokenizersDir,
			Value:       "",
		},
	},
	Action: func(ctx *cli.Context) error {

		if tokenizersDir == "" {
			userDir, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			tokenizersDir = util.PathJoinSafe(userDir, "farmhand", "tokenizers")
		}

		tokenizerConfig := backends.TokenizerConfig{
			Backend:        tokenizerBackend,
			SingleThreaded: singleThreaded,
		}

		queryTokenizer, err := resolveTokenizer(ctx, tokenizerPath, tokenizerConfig)
		if err != nil {
			return err
		}
		defer queryTokenizer.Destroy()

		config := farmhand.ProcessorConfig{
			Tokenizer:        queryTokenizer,
			MaxSeqLen:        maxSeqLen,
			MaxSeqLenPassage: maxSeqLen,
			DocStride:        docStride,
			NumPositives:     numPositives,
			NumHardNegatives: numHardNegatives,
			EmbedTitle:       &embedTitle,
		}
		if passageTokenizerPath != "" {
			passageTokenizer, resolveErr := resolveTokenizer(ctx, passageTokenizerPath, tokenizerConfig)
			if resolveErr != nil {
				return resolveErr
			}
			defer passageTokenizer.Destroy()
			config.PassageTokenizer = passageTokenizer
		}

		processor, err := farmhand.NewProcessor(processorType, config)
		if err != nil {
			return err
		}

		inputChannel := make(chan batch, 1000)
		processedChannel := make(chan []byte, 1000)
		errorsChannel := make(chan error, 1000)
		nWriteWorkers := 1
		nProcessWorkers := 1
		var processedWg, writeWg sync.WaitGroup

		for range nProcessWorkers {
			go processWithProcessor(&processedWg, inputChannel, processedChannel, errorsChannel, processor)
			processedWg.Add(1)
		}

		var writers []struct {
			Writer io.WriteCloser
			Type   string
		}

		for i := range nWriteWorkers {
			var writer io.WriteCloser

			if outputPath != "" {
				dest := util.PathJoinSafe(outputPath, fmt.Sprintf("features-%d.jsonl", i))
				writer, err = util.FileSystem.NewWriter(ctx.Context, dest, os.ModePerm)
				if err != nil {
					return err
				}
			} else {
				writer = os.Stdout
			}

			writers = append(writers, struct {
				Writer io.WriteCloser
				Type   string
			}{
				Writer: writer,
				Type:   "stdout",
			})
			writeWg.Add(1)
			go writeOutputs(&writeWg, processedChannel, errorsChannel, writer)
		}

		defer func() {
			for _, writer := range writers {
				if writer.Type != "stdout" {
					err = errors.Join(err, writer.Writer.Close())
				}
			}
		}()

		// read inputs

		exists, err := util.FileSystem.Exists(ctx.Context, inputPath)
		if err != nil {
			return err
		}
		exists = inputPath != "" && exists

		recordIndex := 0
		if exists {
			fileWalker := func(walkCtx context.Context, baseURL, parent string, info os.FileInfo, reader io.Reader) (toContinue bool, err error) {
				extension := filepath.Ext(info.Name())
				if extension == ".jsonl" {
					recordIndex, err = readInputs(reader, inputChannel, recordIndex)
					if err != nil {
						return false, err
					}
				}
				return true, nil
			}

			err := util.FileSystem.Walk(ctx.Context, inputPath, fileWalker)
			if err != nil {
				return err
			}
		} else {
			if inputPath != "" {
				return fmt.Errorf("file %s does not exist", inputPath)
			}

			if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
				// there is something to process on stdin
				_, err := readInputs(os.Stdin, inputChannel, recordIndex)
				if err != nil {
					return err
				}
			}
		}

		close(inputChannel)
		processedWg.Wait()
		close(processedChannel)
		close(errorsChannel)
		writeWg.Wait()
		return err
	},
}

func main() {
	app := &cli.App{
		Name:     "farmhand",
		Usage:    "Question answering and retrieval featurization from the command line",
		Commands: []*cli.Command{featurizeCommand},
	}
	if err := app.Run(os.Args); err != nil {
		panic(err)
	}
}

// resolveTokenizer finds the tokenizer with this chain: first use the
// provided path, then a previously downloaded tokenizer of that name, then
// download it from huggingface.
func resolveTokenizer(ctx *cli.Context, name string, config backends.TokenizerConfig) (backends.Tokenizer, error) {
	ok, err := util.FileSystem.Exists(ctx.Context, name)
	if err != nil {
		return nil, err
	}
	resolved := name
	if !ok {
		downloadedName := strings.Replace(name, "/", "_", -1)
		ok, err = util.FileSystem.Exists(ctx.Context, util.PathJoinSafe(tokenizersDir, downloadedName))
		if err != nil {
			return nil, err
		}
		if ok {
			resolved = util.PathJoinSafe(tokenizersDir, downloadedName)
		} else {
			if strings.Contains(name, ":") {
				return nil, fmt.Errorf("filters with : are currently not supported")
			}
			err = util.FileSystem.Create(ctx.Context, tokenizersDir, os.ModePerm, true)
			if err != nil {
				return nil, err
			}
			resolved, err = farmhand.DownloadTokenizer(name, tokenizersDir, farmhand.NewDownloadOptions())
			if err != nil {
				return nil, err
			}
		}
	}
	return backends.LoadTokenizer(resolved, config)
}

type batch struct {
	dicts   []map[string]any
	indices []int
}

type tensorOutput struct {
	Shape []int `json:"shape"`
	Data  []int `json:"data"`
}

type batchOutput struct {
	Rows        int                     `json:"rows"`
	Indices     []int                   `json:"indices"`
	Tensors     map[string]tensorOutput `json:"tensors"`
	Problematic []string                `json:"problematic_sample_ids,omitempty"`
}

func writeOutputs(wg *sync.WaitGroup, processedChannel chan []byte, errorChannel chan error, writeTarget io.WriteCloser) {

	for processedChannel != nil || errorChannel != nil {
		select {
		case output, ok := <-processedChannel:
			if !ok {
				processedChannel = nil
			}
			_, err := writeTarget.Write(output)
			checks.Check(err)
			_, err = writeTarget.Write([]byte("\n"))
			checks.Check(err)
		case err, ok := <-errorChannel:
			if !ok {
				errorChannel = nil
			}
			if err != nil {
				_, err = os.Stderr.WriteString(err.Error())
				checks.Check(err)
			}
		}
	}
	wg.Done()
}

func processWithProcessor(wg *sync.WaitGroup, inputChannel chan batch, processedChannel chan []byte, errorsChannel chan error, p processors.Processor) {
	for inputBatch := range inputChannel {
		dataset, names, problematic, err := p.DatasetFromDicts(inputBatch.dicts, inputBatch.indices, inference)
		if err != nil {
			errorsChannel <- err
			continue
		}
		out := batchOutput{
			Rows:    dataset.Len(),
			Indices: inputBatch.indices,
			Tensors: map[string]tensorOutput{},
		}
		for id := range problematic {
			out.Problematic = append(out.Problematic, id)
		}
		var convertErr error
		for _, name := range names {
			data, ok := dataset.Tensor(name).Data().([]int)
			if !ok {
				convertErr = fmt.Errorf("tensor %s does not have integer backing", name)
				break
			}
			out.Tensors[name] = tensorOutput{
				Shape: []int(dataset.Tensor(name).Shape().Clone()),
				Data:  data,
			}
		}
		if convertErr != nil {
			errorsChannel <- convertErr
			continue
		}
		outputBytes, marshallErr := jsoniter.Marshal(out)
		if marshallErr != nil {
			errorsChannel <- marshallErr
		} else {
			processedChannel <- outputBytes
		}
	}
	wg.Done()
}

// readInputs batches raw jsonl records onto the input channel, tagging each
// record with its position in the overall stream so sample ids stay unique
// across files.
func readInputs(inputSource io.Reader, inputChannel chan batch, startIndex int) (int, error) {
	current := batch{}
	index := startIndex

	scanner := bufio.NewScanner(inputSource)
	for scanner.Scan() {
		var record map[string]any
		err := jsoniter.Unmarshal(scanner.Bytes(), &record)
		if err != nil {
			return index, err
		}
		current.dicts = append(current.dicts, record)
		current.indices = append(current.indices, index)
		index++
		if len(current.dicts) == batchSize {
			inputChannel <- current
			current = batch{}
		}
	}
	// flush
	if len(current.dicts) > 0 {
		inputChannel <- current
	}
	return index, scanner.Err()
}
