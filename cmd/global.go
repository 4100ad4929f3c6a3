package cmd

import (
	"github.com/creativeprojects/mailstore/cfg"
	"github.com/sirupsen/logrus"
)

type GlobalFlags struct {
	configFile string
	quiet      bool
	verbose    bool
	metrics    bool
}

var (
	global GlobalFlags
	config *cfg.Config
	logger = logrus.New()
)
