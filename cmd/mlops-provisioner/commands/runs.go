package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/savaki/mlops-provisioner/internal/dao/rundao"
	"github.com/savaki/mlops-provisioner/internal/di"
)

// RunsCommand lists the run ledger entries for a project.
func RunsCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List provisioning runs for a project",
		Flags: []cli.Flag{
			envFlag(),
			configFlag(),
			&cli.StringFlag{
				Name:     "domain-id",
				Usage:    "DataZone domain identifier",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "project-id",
				Usage:    "DataZone project identifier",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			container, err := newContainer(c)
			if err != nil {
				return fmt.Errorf("failed to build container: %w", err)
			}

			dao := di.MustGet[*rundao.DAO](container)
			records, err := dao.Query(c.Context, rundao.NewPK(c.String("domain-id"), c.String("project-id")))
			if err != nil {
				return err
			}

			if len(records) == 0 {
				fmt.Println("No runs found")
				return nil
			}

			for _, record := range records {
				created := time.Unix(record.CreatedAt, 0).UTC().Format(time.RFC3339)
				line := fmt.Sprintf("%s  %-12s  %-22s  %-15s  %s",
					record.SK, record.Status, record.State, record.Trigger, created)
				if record.ErrorMsg != nil {
					line += "  " + *record.ErrorMsg
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}
