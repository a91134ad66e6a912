package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/petiibhuzah/utxoledger/cli"
)

func main() {
	defer os.Exit(0)

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	command := cli.New()
	command.Run()
}
