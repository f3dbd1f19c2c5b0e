package archive

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"
)

var (
	storeCmd = &cobra.Command{
		Use:   "store [file] [name=value...]",
		Short: "Stores a file (- for stdin) with optional metadata",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			schema, err := session.Schema(ctx)
			if err != nil {
				return err
			}
			md, err := parseAssignments(schema, args[1:])
			if err != nil {
				return err
			}

			var in io.Reader = os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			cellID, _ := cmd.Flags().GetInt("cell")
			sys, err := session.StoreObject(ctx, cellID, in, md)
			if err != nil {
				return err
			}
			printSystemRecord(sys)
			return nil
		},
	}
	retrieveCmd = &cobra.Command{
		Use:   "retrieve [oid] [file]",
		Short: "Writes the data of an object to a file (stdout if omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			oid, err := archive.ParseObjectID(args[0])
			if err != nil {
				return err
			}

			var out io.Writer = os.Stdout
			if len(args) == 2 {
				f, err := os.Create(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			first, _ := cmd.Flags().GetInt64("first")
			last, _ := cmd.Flags().GetInt64("last")
			return session.RetrieveRange(ctx, oid, first, last, out)
		},
	}
	metaCmd = &cobra.Command{
		Use:   "meta [oid]",
		Short: "Prints the system record and metadata of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			oid, err := archive.ParseObjectID(args[0])
			if err != nil {
				return err
			}
			md, sys, err := session.RetrieveMetadata(ctx, oid)
			if err != nil {
				return err
			}
			printSystemRecord(sys)
			printRecord("  ", md)
			return nil
		},
	}
	queryCmd = &cobra.Command{
		Use:   "query [where] [param...]",
		Short: "Runs a query over all cells, every ? binds the next param (type:value for non strings)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			stmt := archive.Statement{Where: args[0]}
			for _, p := range args[1:] {
				v, err := parseParam(p)
				if err != nil {
					return err
				}
				stmt.Params = append(stmt.Params, v)
			}
			stmt.Selects, _ = cmd.Flags().GetStringSlice("select")
			pageSize, _ := cmd.Flags().GetInt("page-size")

			rs, err := session.Query(ctx, stmt, pageSize)
			if err != nil {
				return err
			}
			defer rs.Close()

			rows := 0
			for {
				row, ok, err := rs.Next(ctx)
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				rows++
				fmt.Println(row.ObjectID)
				printRecord("  ", row.Record)
			}
			fmt.Printf("%d results", rows)
			if t := rs.IntegrityTime(); !t.IsZero() {
				fmt.Printf(", complete up to %s", t.Format("2006-01-02 15:04:05.000 MST"))
			}
			fmt.Println()
			return nil
		},
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [oid]",
		Short: "Deletes an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			oid, err := archive.ParseObjectID(args[0])
			if err != nil {
				return err
			}
			if err := session.Delete(ctx, oid); err != nil {
				return err
			}
			fmt.Println("deleted successfully")
			return nil
		},
	}
	indexedCmd = &cobra.Command{
		Use:   "indexed [oid]",
		Short: "Asks the cell to index the metadata of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			oid, err := archive.ParseObjectID(args[0])
			if err != nil {
				return err
			}
			res, err := session.CheckIndexed(ctx, oid)
			if err != nil {
				return err
			}
			switch res {
			case 1:
				fmt.Println("indexed now")
			case 0:
				fmt.Println("already indexed")
			default:
				fmt.Println("not indexed yet")
			}
			return nil
		},
	}
	schemaCmd = &cobra.Command{
		Use:   "schema",
		Short: "Prints the attribute schema of the cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			schema, err := session.RefreshSchema(ctx)
			if err != nil {
				return err
			}
			attrs := schema.Attributes()
			sort.Slice(attrs, func(i, j int) bool { return attrs[i].Name < attrs[j].Name })
			for _, a := range attrs {
				extra := ""
				if a.Length > 0 {
					extra += fmt.Sprintf(" length=%d", a.Length)
				}
				if a.Queryable {
					extra += " queryable"
				}
				fmt.Printf("%-20s%-10s%s\n", a.Name, a.Type, extra)
			}
			return nil
		},
	}
	cellsCmd = &cobra.Command{
		Use:   "cells",
		Short: "Prints the cells of the cluster and how evenly they are filled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, c := range session.Cells() {
				capacity := "unknown"
				if c.HasCapacity() {
					capacity = fmt.Sprintf("%s of %s used (%.1f%% free)",
						datasize.ByteSize(c.UsedCapacity).HR(),
						datasize.ByteSize(c.MaxCapacity).HR(),
						c.FreeFraction()*100)
				}
				fmt.Printf("cell %-4d %s:%-6d %s\n", c.ID, c.Address, c.Port, capacity)
			}

			stats := session.CapacityStats()
			fmt.Printf("\nfree fraction: mean=%.3f min=%.3f max=%.3f stddev=%.3f quality=%.3f\n",
				stats.Mean, stats.Min, stats.Max, stats.StdDeviation, stats.DistributionQuality)
			return nil
		},
	}
)

func init() {
	storeCmd.Flags().Int("cell", archive.AnyCell, "Cell to store the object in (-1 lets the client pick)")
	retrieveCmd.Flags().Int64("first", 0, "First byte to retrieve")
	retrieveCmd.Flags().Int64("last", -1, "Last byte to retrieve (inclusive, -1 reads to the end)")
	queryCmd.Flags().StringSlice("select", nil, "Attributes to return with every result")
	queryCmd.Flags().Int("page-size", 0, "Results per page (0 uses --max-results)")
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func printSystemRecord(sys *archive.SystemRecord) {
	fmt.Printf("oid:      %s\n", sys.ObjectID)
	fmt.Printf("size:     %d (%s)\n", sys.Size, datasize.ByteSize(max(sys.Size, 0)).HR())
	if sys.Digest != "" {
		fmt.Printf("digest:   %s:%s\n", strings.ToLower(sys.DigestAlgorithm), sys.Digest)
	}
	if !sys.CreationTime.IsZero() {
		fmt.Printf("created:  %s\n", sys.CreationTime.Format("2006-01-02 15:04:05 MST"))
	}
	if !sys.DeletionTime.IsZero() {
		fmt.Printf("deletion: %s\n", sys.DeletionTime.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Printf("indexed:  %t\n", sys.Indexed)
}

func printRecord(indent string, r *archive.Record) {
	if r == nil {
		return
	}
	_ = r.Each(func(name string, v archive.Value) error {
		fmt.Printf("%s%s = %s (%s)\n", indent, name, v, v.Type())
		return nil
	})
}
