package apiserver

import (
	"github.com/spf13/cobra"

	"github.com/surferxo3/netsuite-devassist-chatbot/internal/business"
	"github.com/surferxo3/netsuite-devassist-chatbot/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"api-server",
		"NetSuite Dev Assist API server",
		"NetSuite Dev Assist API server hosts the login flow and the streaming chat relay.",
		buildInfo,
		cmdutils.RunAsService,
		business.Main,
	)
}
