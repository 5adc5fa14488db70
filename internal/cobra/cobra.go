package cobra

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mattmacy/draid/internal/config"
	"github.com/mattmacy/draid/internal/simulate"
)

var (
	ndata    int
	nparity  int
	nspares  int
	children int
	ngroups  int
	data     string
	failIdx  int
)

var rootCmd = &cobra.Command{
	Use:   "draidsim",
	Short: "dRAID geometry/stripe/vdev simulator",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version info",
	Run: func(cmd *cobra.Command, args []string) {
		logrus.Infof("Version: %s", config.Version)
	},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Write and read back a block through an in-memory dRAID vdev",
	Run: func(cmd *cobra.Command, args []string) {
		if data == "" {
			logrus.Error("Please provide --data")
			return
		}
		p := simulate.Params{NData: ndata, NParity: nparity, NSpares: nspares, Children: children, NGroups: ngroups}
		if err := simulate.Run(p, data); err != nil {
			logrus.Errorf("simulate failed: %v", err)
		}
	},
}

var injectFailureCmd = &cobra.Command{
	Use:   "inject-failure",
	Short: "Write a block, clear a child, then scrub-read it back",
	Run: func(cmd *cobra.Command, args []string) {
		if data == "" {
			logrus.Error("Please provide --data")
			return
		}
		p := simulate.Params{NData: ndata, NParity: nparity, NSpares: nspares, Children: children, NGroups: ngroups}
		if err := simulate.InjectFailure(p, data, failIdx); err != nil {
			logrus.Errorf("inject-failure failed: %v", err)
		}
	},
}

func addGeometryFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&ndata, "ndata", 8, "data columns per group")
	cmd.Flags().IntVar(&nparity, "nparity", 1, "parity columns per group")
	cmd.Flags().IntVar(&nspares, "nspares", 2, "distributed spares")
	cmd.Flags().IntVar(&children, "children", 14, "child count")
	cmd.Flags().IntVar(&ngroups, "ngroups", 13, "groups per slice")
	cmd.Flags().StringVar(&data, "data", "", "input string to write")
}

func InitCLI() *cobra.Command {
	addGeometryFlags(simulateCmd)
	addGeometryFlags(injectFailureCmd)
	injectFailureCmd.Flags().IntVar(&failIdx, "fail", 0, "index of the child to clear before scrub")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(injectFailureCmd)

	return rootCmd
}

func ExecuteCmd() error {
	return InitCLI().Execute()
}
