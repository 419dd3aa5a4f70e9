package main

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/prodrec/internal/config"
	"github.com/kalambet/prodrec/internal/ingest"
	"github.com/kalambet/prodrec/internal/storage"
)

// --- recommend ---

type recommendationsResponse struct {
	UserID          string `json:"user_id"`
	ColdStart       bool   `json:"cold_start"`
	SnapshotVersion int64  `json:"snapshot_version"`
	Recommendations []struct {
		ProductID   string  `json:"product_id"`
		Score       float64 `json:"score"`
		Explanation string  `json:"explanation"`
	} `json:"recommendations"`
}

var recommendCmd = &cobra.Command{
	Use:   "recommend <user>",
	Short: "Recommend products for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		neighbors, _ := cmd.Flags().GetInt("neighbors")

		q := url.Values{}
		if limit > 0 {
			q.Set("limit", fmt.Sprint(limit))
		}
		if neighbors > 0 {
			q.Set("neighbors", fmt.Sprint(neighbors))
		}
		path := "/recommendations/" + url.PathEscape(args[0])
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(commandContext(cmd), path)
		if err != nil {
			return err
		}
		var res recommendationsResponse
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		if len(res.Recommendations) == 0 {
			fmt.Println("No recommendations.")
			return nil
		}
		if res.ColdStart {
			printWarning("No ratings from %s yet; showing popular products", res.UserID)
		}
		for i, r := range res.Recommendations {
			fmt.Printf("%d. %s [score: %.3f]\n", i+1, colorize(colorBold, r.ProductID), r.Score)
			fmt.Printf("   %s\n", r.Explanation)
		}
		return nil
	},
}

func init() {
	recommendCmd.Flags().Int("limit", 0, "maximum number of recommendations (server default when 0)")
	recommendCmd.Flags().Int("neighbors", 0, "number of similar users to consult (server default when 0)")
}

// --- similar ---

type similarResponse struct {
	ProductID string `json:"product_id"`
	Similar   []struct {
		ProductID string  `json:"product_id"`
		Score     float64 `json:"score"`
		Title     string  `json:"title"`
	} `json:"similar"`
}

var similarCmd = &cobra.Command{
	Use:   "similar <product>",
	Short: "List products with the most similar description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := fmt.Sprintf("/products/%s/similar?limit=%d", url.PathEscape(args[0]), limit)
		resp, err := client.get(commandContext(cmd), path)
		if err != nil {
			return err
		}
		var res similarResponse
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		if len(res.Similar) == 0 {
			fmt.Println("No similar products.")
			return nil
		}
		for _, s := range res.Similar {
			fmt.Printf("%s  %.3f  %s\n", colorize(colorCyan, s.ProductID), s.Score, s.Title)
		}
		return nil
	},
}

func init() {
	similarCmd.Flags().Int("limit", 5, "maximum number of results")
}

// --- history ---

type historyResponse struct {
	UserID  string `json:"user_id"`
	History []struct {
		ProductID    string  `json:"product_id"`
		Rating       float64 `json:"rating"`
		ProductTitle string  `json:"product_title"`
		Timestamp    string  `json:"timestamp"`
	} `json:"history"`
}

var historyCmd = &cobra.Command{
	Use:   "history <user>",
	Short: "Show the products a user has rated",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(commandContext(cmd), "/users/"+url.PathEscape(args[0])+"/history")
		if err != nil {
			return err
		}
		var res historyResponse
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		if len(res.History) == 0 {
			fmt.Println("No rated catalog products.")
			return nil
		}
		for _, h := range res.History {
			ts := h.Timestamp
			if ts == "" {
				ts = "-"
			}
			fmt.Printf("%s  %.1f  %-20s  %s\n", colorize(colorCyan, h.ProductID), h.Rating, ts, h.ProductTitle)
		}
		return nil
	},
}

// --- rate ---

var rateCmd = &cobra.Command{
	Use:   "rate <user> <product> <rating>",
	Short: "Record a 1-5 rating",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var value float64
		if _, err := fmt.Sscan(args[2], &value); err != nil {
			return fmt.Errorf("rating must be a number: %w", err)
		}
		if value < 1 || value > 5 {
			return fmt.Errorf("rating must be between 1 and 5, got %g", value)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(commandContext(cmd), "/ratings", map[string]any{
			"user_id":    args[0],
			"product_id": args[1],
			"rating":     value,
		})
		if err != nil {
			return err
		}
		var res map[string]any
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printSuccess("Rated %s %g for %s", args[1], value, args[0])
		return nil
	},
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk-load ratings and catalog data into the store",
	Long: `Bulk-load ratings and catalog data directly into the store.

Imports write to the database file and queue a snapshot rebuild, so a
running server picks the new data up without a restart.

Examples:
  prodrec import ratings ./ratings_Electronics.csv
  prodrec import products ./catalog.csv
  prodrec import pdf ./sheet.pdf --id B00X --title "Desk Lamp" --category Home`,
}

// openImporter opens the configured store for a bulk load.
func openImporter() (*ingest.Importer, *storage.Store, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, config.Config{}, err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, config.Config{}, fmt.Errorf("opening storage: %w", err)
	}
	return ingest.NewImporter(store, 0), store, cfg, nil
}

var importRatingsCmd = &cobra.Command{
	Use:   "ratings <csv>",
	Short: "Import a userId,productId,rating[,timestamp] CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening ratings file: %w", err)
		}
		defer f.Close()

		im, store, cfg, err := openImporter()
		if err != nil {
			return err
		}
		defer store.Close()

		opts := ingest.FilterOptions{
			MinPerUser:    cfg.Import.MinRatingsPerUser,
			MinPerProduct: cfg.Import.MinRatingsPerProduct,
			MaxUsers:      cfg.Import.MaxUsers,
			MaxProducts:   cfg.Import.MaxProducts,
		}
		if all, _ := cmd.Flags().GetBool("all"); all {
			opts = ingest.FilterOptions{}
		}

		printStep("Importing ratings from %s...", args[0])
		res, err := im.ImportRatings(commandContext(cmd), f, opts)
		if err != nil {
			return err
		}
		printStatus("Rows read", "%d (%d skipped, %d duplicates)", res.Read.Rows, res.Read.Skipped, res.Read.Duplicates)
		printStatus("Imported", "%d ratings, %d users, %d products", res.Imported, res.Users, res.Products)
		if res.Placeholders > 0 {
			printStatus("Placeholders", "%d products not in the catalog", res.Placeholders)
		}
		printSuccess("Ratings imported")
		return nil
	},
}

var importProductsCmd = &cobra.Command{
	Use:   "products <csv>",
	Short: "Import a productId,title,description,category CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening products file: %w", err)
		}
		defer f.Close()

		im, store, _, err := openImporter()
		if err != nil {
			return err
		}
		defer store.Close()

		printStep("Importing products from %s...", args[0])
		stats, err := im.ImportProducts(commandContext(cmd), f)
		if err != nil {
			return err
		}
		printStatus("Imported", "%d products (%d skipped)", stats.Kept, stats.Skipped)
		printSuccess("Products imported")
		return nil
	},
}

var importPDFCmd = &cobra.Command{
	Use:   "pdf <file>",
	Short: "Import a product whose description is a PDF spec sheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		title, _ := cmd.Flags().GetString("title")
		category, _ := cmd.Flags().GetString("category")
		if id == "" {
			return fmt.Errorf("--id is required")
		}

		im, store, _, err := openImporter()
		if err != nil {
			return err
		}
		defer store.Close()

		p, err := im.ImportPDF(commandContext(cmd), args[0], storage.Product{ID: id, Title: title, Category: category})
		if err != nil {
			return err
		}
		printSuccess("Imported %s (%d characters of description)", p.ID, len(p.Description))
		return nil
	},
}

func init() {
	importRatingsCmd.Flags().Bool("all", false, "skip the minimum-count and size filters")
	importPDFCmd.Flags().String("id", "", "product id")
	importPDFCmd.Flags().String("title", "", "product title (default \"Product <id>\")")
	importPDFCmd.Flags().String("category", "", "product category")

	importCmd.AddCommand(importRatingsCmd)
	importCmd.AddCommand(importProductsCmd)
	importCmd.AddCommand(importPDFCmd)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Printf("  %s\n", colorize(colorCyan, config.ConfigPath()))
		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
