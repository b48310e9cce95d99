package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenant settings",
	}

	cmd.AddCommand(newTenantSetLimitCmd())
	cmd.AddCommand(newTenantQuotaCmd())
	return cmd
}

func newTenantSetLimitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "set-limit <tenant> <limit>",
		Short: "Set a tenant's daily send limit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("limit must be an integer, got %q", args[1])
			}
			return runTenantSetLimit(cmd, configPath, args[0], limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to heraldo config file")
	return cmd
}

func runTenantSetLimit(cmd *cobra.Command, configPath, tenant string, limit int) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	st, err := storeFromConfig(cfg, gormDB)
	if err != nil {
		return err
	}
	if err := st.SetDailyLimit(cmd.Context(), tenant, limit); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Daily limit for %s set to %d\n", tenant, limit)
	return nil
}

func newTenantQuotaCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "quota <tenant>",
		Short: "Show a tenant's usage against its daily limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTenantQuota(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to heraldo config file")
	return cmd
}

func runTenantQuota(cmd *cobra.Command, configPath, tenant string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	st, err := storeFromConfig(cfg, gormDB)
	if err != nil {
		return err
	}
	q, err := st.DailyQuota(cmd.Context(), tenant)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d of %d sent today, %d remaining\n",
		tenant, q.SentToday, q.DailyLimit, max(q.DailyLimit-q.SentToday, 0))
	return nil
}
