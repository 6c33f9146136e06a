package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ObjatieGroba/kks/internal/cli"
)

func main() {
	logrus.SetLevel(logrus.WarnLevel)
	r := cli.NewRunner(os.Stdout, os.Stderr)
	os.Exit(r.Run(context.Background(), os.Args[1:]))
}
