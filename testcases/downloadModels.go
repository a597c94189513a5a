package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/knights-analytics/linspector"
	"github.com/knights-analytics/linspector/util/fileutil"
)

// download the test models.

type downloadModel struct {
	name         string
	onnxFilePath string
}

var models = []downloadModel{
	{name: "KnightsAnalytics/all-MiniLM-L6-v2"},
}

func main() {
	ok, err := fileutil.FileExists("./models")
	if err != nil {
		panic(err)
	}
	if !ok {
		if err = os.MkdirAll("./models", os.ModePerm); err != nil {
			panic(err)
		}
	}
	for _, model := range models {
		if ok, err = fileutil.FileExists("./models/" + strings.ReplaceAll(model.name, "/", "_")); err != nil {
			panic(err)
		}
		if ok {
			continue
		}
		options := linspector.NewDownloadOptions()
		options.OnnxFilePath = model.onnxFilePath
		fmt.Printf("Downloading %s\n", model.name)
		outPath, dlErr := linspector.DownloadModel(model.name, "./models", options)
		if dlErr != nil {
			panic(dlErr)
		}
		fmt.Printf("Downloaded %s to %s\n", model.name, outPath)
	}
}
